// Package pg wires PostgreSQL through pgx/v5: pool construction with startup
// retries, goose migrations from an embedded filesystem, a transaction helper
// and SQLSTATE classification helpers.
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	if err := pg.Migrate(ctx, pool, cfg, migrations.FS, log); err != nil {
//		return err
//	}
//
//	err = pg.WithTx(ctx, pool, cfg.LockTimeout, func(tx pgx.Tx) error {
//		_, err := tx.Exec(ctx, "UPDATE ...")
//		return err
//	})
package pg
