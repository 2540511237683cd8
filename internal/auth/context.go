package auth

import "context"

type ctxKey int

const (
	ctxKeyPrincipal ctxKey = iota
	ctxKeyToken
)

// ContextWithPrincipal returns a child context carrying the authenticated
// principal for downstream handlers and audit hooks.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKeyPrincipal, p)
}

// PrincipalFromContext reports the principal attached by the auth
// middleware, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKeyPrincipal).(Principal)
	return p, ok
}

// ContextWithToken carries the raw bearer credential so handlers that need
// to forward it (logout on own session) can reach it without reparsing.
func ContextWithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKeyToken, token)
}

// TokenFromContext returns the raw bearer token when one was attached.
func TokenFromContext(ctx context.Context) (string, bool) {
	tok, ok := ctx.Value(ctxKeyToken).(string)
	return tok, ok && tok != ""
}
