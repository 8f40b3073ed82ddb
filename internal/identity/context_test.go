package identity

import (
	"context"
	"testing"
)

func TestWithPrincipalAndFromContext(t *testing.T) {
	ctx := WithPrincipal(context.Background(), Principal{ID: "user-123", Email: "a@example.com"})

	got, ok := FromContext(ctx)
	if !ok {
		t.Fatalf("expected principal to be present")
	}
	if got.ID != "user-123" || got.Email != "a@example.com" {
		t.Fatalf("unexpected principal %+v", got)
	}
}

func TestFromContext_EmptyOrMissing(t *testing.T) {
	if _, ok := FromContext(context.Background()); ok {
		t.Fatalf("expected missing principal to return false")
	}

	ctx := context.WithValue(context.Background(), principalKey, "user-123")
	if _, ok := FromContext(ctx); ok {
		t.Fatalf("expected non-principal value to return false")
	}

	ctx = WithPrincipal(context.Background(), Principal{Email: "a@example.com"})
	if _, ok := FromContext(ctx); ok {
		t.Fatalf("expected principal without id to return false")
	}
}

func TestDisplayEmail(t *testing.T) {
	if got := (Principal{ID: "u"}).DisplayEmail(); got != "Unknown" {
		t.Fatalf("expected Unknown, got %s", got)
	}
	if got := (Principal{ID: "u", Email: "x@y.z"}).DisplayEmail(); got != "x@y.z" {
		t.Fatalf("expected x@y.z, got %s", got)
	}
}
