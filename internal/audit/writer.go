package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"hl-mm-bot/internal/config"
	"hl-mm-bot/internal/submit"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// Writer persists terminal order outcomes and telemetry snapshots to
// Postgres/Timescale. Writes are best-effort: a full queue drops the row and
// warns once rather than stalling the quote loop.
type Writer struct {
	db        *sql.DB
	log       *zap.Logger
	schema    string
	orders    chan submit.HistoryEntry
	telemetry chan TelemetrySample
	started   atomic.Bool
	dropOrder atomic.Uint64
	dropTele  atomic.Uint64
}

// TelemetrySample is one per-symbol snapshot row, taken per refresh cycle.
type TelemetrySample struct {
	Time             time.Time
	Symbol           string
	BuySamples       int
	BuyTickErrors    int
	SellSamples      int
	SellTickErrors   int
	BuySuppressed    bool
	SellSuppressed   bool
	Discrepancies    int
	DailyNotionalUSD float64
}

// SampleFromSnapshot flattens an engine telemetry snapshot into a row.
func SampleFromSnapshot(now time.Time, snap submit.TelemetrySnapshot) TelemetrySample {
	return TelemetrySample{
		Time:             now,
		Symbol:           snap.Symbol,
		BuySamples:       snap.Buy.Samples,
		BuyTickErrors:    snap.Buy.WindowTickErrs,
		SellSamples:      snap.Sell.Samples,
		SellTickErrors:   snap.Sell.WindowTickErrs,
		BuySuppressed:    now.Before(snap.Buy.SuppressedUntil),
		SellSuppressed:   now.Before(snap.Sell.SuppressedUntil),
		Discrepancies:    snap.Discrepancies,
		DailyNotionalUSD: snap.DailyNotional,
	}
}

// New returns nil when auditing is disabled; every Writer method tolerates a
// nil receiver so callers need no guard.
func New(cfg config.AuditConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("audit dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	writer := &Writer{
		db:        db,
		log:       log,
		schema:    schema,
		orders:    make(chan submit.HistoryEntry, queueSize),
		telemetry: make(chan TelemetrySample, queueSize),
	}
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

// Record implements submit.Recorder.
func (w *Writer) Record(e submit.HistoryEntry) {
	if w == nil {
		return
	}
	select {
	case w.orders <- e:
	default:
		if w.dropOrder.Add(1) == 1 && w.log != nil {
			w.log.Warn("audit order queue full")
		}
	}
}

func (w *Writer) EnqueueTelemetry(sample TelemetrySample) {
	if w == nil {
		return
	}
	select {
	case w.telemetry <- sample:
	default:
		if w.dropTele.Add(1) == 1 && w.log != nil {
			w.log.Warn("audit telemetry queue full")
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case entry := <-w.orders:
			w.writeOrder(ctx, entry)
		case sample := <-w.telemetry:
			w.writeTelemetry(ctx, sample)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("audit db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		cloid TEXT NOT NULL,
		order_id TEXT NOT NULL DEFAULT '',
		price TEXT NOT NULL,
		size TEXT NOT NULL,
		status TEXT NOT NULL
	)`, w.table("order_history"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		symbol TEXT NOT NULL,
		buy_samples INTEGER NOT NULL,
		buy_tick_errors INTEGER NOT NULL,
		sell_samples INTEGER NOT NULL,
		sell_tick_errors INTEGER NOT NULL,
		buy_suppressed BOOLEAN NOT NULL,
		sell_suppressed BOOLEAN NOT NULL,
		discrepancies INTEGER NOT NULL,
		daily_notional_usd DOUBLE PRECISION NOT NULL
	)`, w.table("telemetry_snapshots"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		if w.log != nil {
			w.log.Warn("timescale extension ensure failed", zap.Error(err))
		}
		return nil
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("order_history"))); err != nil && w.log != nil {
		w.log.Warn("order_history hypertable create failed", zap.Error(err))
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("telemetry_snapshots"))); err != nil && w.log != nil {
		w.log.Warn("telemetry_snapshots hypertable create failed", zap.Error(err))
	}
	return nil
}

func (w *Writer) writeOrder(ctx context.Context, e submit.HistoryEntry) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, symbol, side, cloid, order_id, price, size, status
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`, w.table("order_history"))
	if _, err := w.db.ExecContext(ctx, query,
		e.Time,
		e.Symbol,
		e.Side.String(),
		e.Cloid,
		e.OrderID,
		e.Price,
		e.Size,
		string(e.Status),
	); err != nil && w.log != nil {
		w.log.Warn("audit order insert failed", zap.Error(err))
	}
}

func (w *Writer) writeTelemetry(ctx context.Context, s TelemetrySample) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, symbol, buy_samples, buy_tick_errors, sell_samples, sell_tick_errors,
		buy_suppressed, sell_suppressed, discrepancies, daily_notional_usd
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`, w.table("telemetry_snapshots"))
	if _, err := w.db.ExecContext(ctx, query,
		s.Time,
		s.Symbol,
		s.BuySamples,
		s.BuyTickErrors,
		s.SellSamples,
		s.SellTickErrors,
		s.BuySuppressed,
		s.SellSuppressed,
		s.Discrepancies,
		s.DailyNotionalUSD,
	); err != nil && w.log != nil {
		w.log.Warn("audit telemetry insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
