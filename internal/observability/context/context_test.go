package context

import (
	"context"
	"testing"

	"github.com/revaiconcierge/concierge/internal/orgcontext"
)

func TestEnsureCorrelationIDKeepsExisting(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "abc")
	ctx, cid := EnsureCorrelationID(ctx)
	if cid != "abc" || CorrelationIDFromContext(ctx) != "abc" {
		t.Fatalf("expected existing correlation id to be kept, got %q", cid)
	}
}

func TestEnsureCorrelationIDGenerates(t *testing.T) {
	ctx, cid := EnsureCorrelationID(context.Background())
	if len(cid) != 26 {
		t.Fatalf("expected a ulid, got %q", cid)
	}
	if CorrelationIDFromContext(ctx) != cid {
		t.Fatal("expected generated id on context")
	}
}

func TestRequestAndTenantFields(t *testing.T) {
	ctx := WithRequestID(context.Background(), " req-1 ")
	ctx = orgcontext.WithTenantID(ctx, "tenant-1")
	if RequestIDFromContext(ctx) != "req-1" {
		t.Fatalf("unexpected request id %q", RequestIDFromContext(ctx))
	}
	if TenantIDFromContext(ctx) != "tenant-1" {
		t.Fatalf("unexpected tenant id %q", TenantIDFromContext(ctx))
	}
}
