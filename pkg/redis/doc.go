// Package redis connects to Redis and exposes a readiness check.
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
// Connect retries PING up to Config.RetryAttempts times within
// Config.ConnectTimeout. Failures wrap ErrRedisNotReady with errors.Join.
//
// Config.KeyPrefix namespaces every key written by the dedup ledger and the
// idempotency cache, so several deployments can share one database.
package redis
