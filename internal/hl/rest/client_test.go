package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestInfoPostsJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/info" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if req["type"] != "clearinghouseState" {
			t.Errorf("unexpected request: %v", req)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, zap.NewNop())
	resp, err := c.Info(context.Background(), map[string]any{"type": "clearinghouseState"})
	if err != nil {
		t.Fatalf("info failed: %v", err)
	}
	if resp["ok"] != true {
		t.Fatalf("unexpected response: %v", resp)
	}
}

func TestInfoStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, zap.NewNop())
	_, err := c.Info(context.Background(), InfoRequest{Type: "meta"})
	if err == nil {
		t.Fatal("expected error")
	}
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %T", err)
	}
	if !se.RateLimited() {
		t.Fatalf("expected rate limited, got code %d", se.Code)
	}
}
