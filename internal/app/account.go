package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// accountSnapshot is the equity and per-symbol signed position read from the
// clearinghouse. A single poller refreshes it for all symbol workers.
type accountSnapshot struct {
	Equity    float64
	Positions map[string]float64
	Time      time.Time
}

type infoClient interface {
	Info(ctx context.Context, req interface{}) (map[string]any, error)
}

type accountPoller struct {
	rest    infoClient
	address string

	mu   sync.RWMutex
	snap accountSnapshot
}

func newAccountPoller(rest infoClient, address string) *accountPoller {
	return &accountPoller{rest: rest, address: address}
}

// Snapshot returns the last successful read; ok is false before the first.
func (p *accountPoller) Snapshot() (accountSnapshot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snap, !p.snap.Time.IsZero()
}

func (p *accountPoller) Refresh(ctx context.Context) error {
	resp, err := p.rest.Info(ctx, map[string]any{"type": "clearinghouseState", "user": p.address})
	if err != nil {
		return err
	}
	snap, err := parseClearinghouseState(resp)
	if err != nil {
		return err
	}
	snap.Time = time.Now()
	p.mu.Lock()
	p.snap = snap
	p.mu.Unlock()
	return nil
}

func (p *accountPoller) run(ctx context.Context, interval time.Duration, onErr func(error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Refresh(ctx); err != nil && onErr != nil {
				onErr(err)
			}
		}
	}
}

func parseClearinghouseState(resp map[string]any) (accountSnapshot, error) {
	snap := accountSnapshot{Positions: make(map[string]float64)}
	margin, ok := resp["marginSummary"].(map[string]any)
	if !ok {
		return snap, errors.New("clearinghouse state missing marginSummary")
	}
	equity, err := floatField(margin, "accountValue")
	if err != nil {
		return snap, err
	}
	snap.Equity = equity
	positions, _ := resp["assetPositions"].([]any)
	for _, raw := range positions {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		pos, ok := entry["position"].(map[string]any)
		if !ok {
			continue
		}
		coin, _ := pos["coin"].(string)
		if coin == "" {
			continue
		}
		szi, err := floatField(pos, "szi")
		if err != nil {
			continue
		}
		snap.Positions[coin] = szi
	}
	return snap, nil
}

func floatField(m map[string]any, key string) (float64, error) {
	switch v := m[key].(type) {
	case string:
		return strconv.ParseFloat(v, 64)
	case float64:
		return v, nil
	default:
		return 0, fmt.Errorf("field %s: unexpected type %T", key, v)
	}
}
