package identity

import "context"

type ctxKey string

const principalKey ctxKey = "buyerleads.principal"

// Principal is the authenticated caller as issued by the identity provider.
type Principal struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

// DisplayEmail returns the email recorded in audit history.
func (p Principal) DisplayEmail() string {
	if p.Email == "" {
		return "Unknown"
	}
	return p.Email
}

// WithPrincipal stores the principal in context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// FromContext extracts the principal if present.
func FromContext(ctx context.Context) (Principal, bool) {
	val := ctx.Value(principalKey)
	if val == nil {
		return Principal{}, false
	}
	p, ok := val.(Principal)
	return p, ok && p.ID != ""
}
