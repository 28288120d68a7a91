package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/thechriswalker/go-decide/voting"
)

type ctxKey int

const (
	actorKey ctxKey = iota
	tokenKey
)

// TokenAuth resolves the static API tokens to actors.
type TokenAuth map[string]voting.Actor

// bearerToken extracts the token of an "Authorization: Token <t>" or "Bearer <t>" header
func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	for _, prefix := range []string{"Token ", "Bearer "} {
		if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
			return strings.TrimSpace(h[len(prefix):])
		}
	}
	return ""
}

// middleware puts the actor of the request token in the context.
// Unknown tokens are the same as no token, handlers decide if that matters.
func (ta TokenAuth) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		ctx := r.Context()
		if token != "" {
			ctx = context.WithValue(ctx, tokenKey, token)
			if actor, ok := ta[token]; ok {
				ctx = context.WithValue(ctx, actorKey, &actor)
			}
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func actorFrom(ctx context.Context) *voting.Actor {
	a, _ := ctx.Value(actorKey).(*voting.Actor)
	return a
}

func tokenFrom(ctx context.Context) string {
	t, _ := ctx.Value(tokenKey).(string)
	return t
}
