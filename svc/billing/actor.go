package billing

import (
	"context"
	"net/http"
	"slices"
	"strings"
)

// Headers set by the authenticating proxy in front of the API.
const (
	ActorEmailHeader = "X-Actor-Email"
	ActorRoleHeader  = "X-Actor-Role"
)

type Role string

const (
	RoleAdmin      Role = "admin"
	RoleSuperadmin Role = "superadmin"
)

// Actor is the authenticated caller.
type Actor struct {
	Email string
	Role  Role
}

type actorKey struct{}

func withActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFromContext returns the actor stored by RequireRole.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(Actor)
	return a, ok
}

// actorID scopes idempotency keys.
func actorID(r *http.Request) string {
	if a, ok := ActorFromContext(r.Context()); ok {
		return a.Email
	}
	return "anonymous"
}

// RequireRole rejects requests without an actor (401) or whose role is not
// in roles (403).
func RequireRole(roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := Actor{
				Email: strings.ToLower(strings.TrimSpace(r.Header.Get(ActorEmailHeader))),
				Role:  Role(strings.ToLower(strings.TrimSpace(r.Header.Get(ActorRoleHeader)))),
			}
			if actor.Email == "" || actor.Role == "" {
				_, body := errorEnvelope(ErrUnauthenticated)
				writeJSON(w, ErrUnauthenticated.Status, body)
				return
			}
			if !slices.Contains(roles, actor.Role) {
				_, body := errorEnvelope(ErrForbidden)
				writeJSON(w, ErrForbidden.Status, body)
				return
			}
			next.ServeHTTP(w, r.WithContext(withActor(r.Context(), actor)))
		})
	}
}
