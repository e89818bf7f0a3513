package risk

import (
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Action is what the engine is permitted to do right now.
type Action int

const (
	Continue Action = iota
	ReduceOnly
	Halt
	EmergencyLiquidate
)

func (a Action) String() string {
	switch a {
	case ReduceOnly:
		return "reduce-only"
	case Halt:
		return "halt"
	case EmergencyLiquidate:
		return "emergency-liquidate"
	default:
		return "continue"
	}
}

type Reason int

const (
	ReasonNone Reason = iota
	ReasonDrawdown
	ReasonDailyDrawdown
	ReasonHardStop
	ReasonInventoryRatio
	ReasonLatched
)

func (r Reason) String() string {
	switch r {
	case ReasonDrawdown:
		return "drawdown"
	case ReasonDailyDrawdown:
		return "daily-drawdown"
	case ReasonHardStop:
		return "hard-stop"
	case ReasonInventoryRatio:
		return "inventory-ratio"
	case ReasonLatched:
		return "latched"
	default:
		return "none"
	}
}

type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return "info"
	}
}

type Health struct {
	Action   Action
	Reason   Reason
	Severity Severity
}

// Limits are fractions, not percentages: 0.15 means 15%.
type Limits struct {
	MaxDrawdown      float64
	MaxDailyDrawdown float64
	// HardStopPrice triggers liquidation once the reference price trades
	// at or below it. Zero disables.
	HardStopPrice     float64
	MaxInventoryRatio float64
}

// Manager gates exposure for every symbol worker. Halt and
// EmergencyLiquidate latch: once tripped, every subsequent check reports the
// latched action until Reset, even if the triggering condition clears.
type Manager struct {
	limits Limits
	log    *zap.Logger
	now    func() time.Time

	mu        sync.Mutex
	highWater float64
	dayOpen   float64
	day       time.Time
	latched   Action
	latchWhy  Reason
}

func New(limits Limits, log *zap.Logger) *Manager {
	return &Manager{limits: limits, log: log, now: time.Now}
}

// CheckHealth evaluates account state and returns the permitted action.
// Called by every worker each cycle, so it holds the lock briefly and does no
// I/O.
func (m *Manager) CheckHealth(equity, inventoryValue, price float64) Health {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rollDay(equity)

	if m.latched != Continue {
		return Health{Action: m.latched, Reason: ReasonLatched, Severity: SeverityCritical}
	}

	if equity > m.highWater {
		m.highWater = equity
	}

	if m.limits.HardStopPrice > 0 && price > 0 && price <= m.limits.HardStopPrice {
		m.latch(EmergencyLiquidate, ReasonHardStop,
			zap.Float64("price", price), zap.Float64("stop", m.limits.HardStopPrice))
		return Health{Action: EmergencyLiquidate, Reason: ReasonHardStop, Severity: SeverityCritical}
	}

	if m.limits.MaxDrawdown > 0 && m.highWater > 0 {
		dd := (m.highWater - equity) / m.highWater
		if dd >= m.limits.MaxDrawdown {
			m.latch(Halt, ReasonDrawdown,
				zap.Float64("drawdown", dd), zap.Float64("high_water", m.highWater))
			return Health{Action: Halt, Reason: ReasonDrawdown, Severity: SeverityCritical}
		}
	}

	if m.limits.MaxDailyDrawdown > 0 && m.dayOpen > 0 {
		dd := (m.dayOpen - equity) / m.dayOpen
		if dd >= m.limits.MaxDailyDrawdown {
			m.latch(Halt, ReasonDailyDrawdown,
				zap.Float64("daily_drawdown", dd), zap.Float64("day_open", m.dayOpen))
			return Health{Action: Halt, Reason: ReasonDailyDrawdown, Severity: SeverityCritical}
		}
	}

	if m.limits.MaxInventoryRatio > 0 && equity > 0 {
		ratio := math.Abs(inventoryValue) / equity
		if ratio > m.limits.MaxInventoryRatio {
			return Health{Action: ReduceOnly, Reason: ReasonInventoryRatio, Severity: SeverityWarning}
		}
	}

	return Health{Action: Continue}
}

// Reset clears the latch and re-bases the daily open. Meant for an explicit
// operator/session reset, not for automatic recovery.
func (m *Manager) Reset(equity float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.latched != Continue {
		m.log.Warn("risk latch cleared",
			zap.String("was", m.latched.String()),
			zap.String("reason", m.latchWhy.String()))
	}
	m.latched = Continue
	m.latchWhy = ReasonNone
	m.dayOpen = equity
	m.highWater = equity
	m.day = m.now()
}

func (m *Manager) latch(a Action, why Reason, fields ...zap.Field) {
	m.latched = a
	m.latchWhy = why
	m.log.Error("risk latch engaged",
		append([]zap.Field{
			zap.String("action", a.String()),
			zap.String("reason", why.String()),
		}, fields...)...)
}

// rollDay re-bases the daily drawdown anchor at UTC midnight. The latch is
// deliberately untouched; only Reset clears it.
func (m *Manager) rollDay(equity float64) {
	today := m.now().UTC().Truncate(24 * time.Hour)
	if m.day.Equal(today) {
		return
	}
	m.day = today
	m.dayOpen = equity
}
