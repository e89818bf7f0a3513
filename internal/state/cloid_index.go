package state

import (
	"context"
	"strings"
)

const cloidOrderKey = "engine:cloid:"

func CloidOrderIDKey(cloid string) string {
	return cloidOrderKey + cloid
}

// SaveCloidOrderID records which exchange order id a cloid resolved to. The
// index is what makes a replayed submission detectable after a restart.
func SaveCloidOrderID(ctx context.Context, store Store, cloid, orderID string) error {
	if store == nil || cloid == "" || orderID == "" {
		return nil
	}
	return store.Set(ctx, CloidOrderIDKey(cloid), orderID)
}

func LoadCloidOrderID(ctx context.Context, store Store, cloid string) (string, bool, error) {
	if store == nil || cloid == "" {
		return "", false, nil
	}
	raw, ok, err := store.Get(ctx, CloidOrderIDKey(cloid))
	if err != nil || !ok {
		return "", false, err
	}
	orderID := strings.TrimSpace(raw)
	return orderID, orderID != "", nil
}

func DeleteCloidOrderID(ctx context.Context, store Store, cloid string) error {
	if store == nil || cloid == "" {
		return nil
	}
	return store.Delete(ctx, CloidOrderIDKey(cloid))
}
