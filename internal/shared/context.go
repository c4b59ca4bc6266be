package shared

import (
	"context"
	"net/http"
	"strconv"
)

// ActorHeader carries the id of the user acting on behalf of a request. The
// authenticating proxy in front of the service sets it.
const ActorHeader = "X-Actor-ID"

type actorContextKey struct{}

// ContextWithActor stores the acting user id in context.
func ContextWithActor(ctx context.Context, actorID int64) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actorID)
}

// ActorFromContext extracts the acting user id, zero when unknown.
func ActorFromContext(ctx context.Context) int64 {
	id, _ := ctx.Value(actorContextKey{}).(int64)
	return id
}

// ActorMiddleware copies ActorHeader into the request context.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, err := strconv.ParseInt(r.Header.Get(ActorHeader), 10, 64); err == nil && id > 0 {
			r = r.WithContext(ContextWithActor(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}
