package state

import (
	"context"
	"testing"
)

func TestCloidOrderIDRoundTrip(t *testing.T) {
	store := &memoryStore{}
	ctx := context.Background()

	if _, ok, err := LoadCloidOrderID(ctx, store, "0xabc"); ok || err != nil {
		t.Fatalf("empty store: ok=%v err=%v", ok, err)
	}
	if err := SaveCloidOrderID(ctx, store, "0xabc", "12345"); err != nil {
		t.Fatalf("save: %v", err)
	}
	oid, ok, err := LoadCloidOrderID(ctx, store, "0xabc")
	if err != nil || !ok || oid != "12345" {
		t.Fatalf("load: oid=%q ok=%v err=%v", oid, ok, err)
	}
	if err := DeleteCloidOrderID(ctx, store, "0xabc"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := LoadCloidOrderID(ctx, store, "0xabc"); ok {
		t.Fatalf("mapping survived delete")
	}
}

func TestCloidOrderIDIgnoresEmpty(t *testing.T) {
	store := &memoryStore{}
	ctx := context.Background()
	if err := SaveCloidOrderID(ctx, store, "", "12345"); err != nil {
		t.Fatalf("empty cloid: %v", err)
	}
	if err := SaveCloidOrderID(ctx, store, "0xabc", ""); err != nil {
		t.Fatalf("empty order id: %v", err)
	}
	if len(store.items) != 0 {
		t.Fatalf("empty keys were persisted: %v", store.items)
	}
}
