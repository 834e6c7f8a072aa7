package orgcontext

import (
	"context"
	"testing"
)

func TestTenantIDRoundTrip(t *testing.T) {
	ctx := WithTenantID(context.Background(), "  tenant-a ")
	got, ok := TenantIDFromContext(ctx)
	if !ok || got != "tenant-a" {
		t.Fatalf("expected tenant-a, got %q (ok=%v)", got, ok)
	}
}

func TestTenantIDMissing(t *testing.T) {
	if _, ok := TenantIDFromContext(context.Background()); ok {
		t.Fatal("expected no tenant on empty context")
	}
	if _, ok := TenantIDFromContext(WithTenantID(context.Background(), "   ")); ok {
		t.Fatal("expected blank tenant to be treated as missing")
	}
}
