package submit

import (
	"context"
	"errors"
	"time"

	"hl-mm-bot/internal/quant"
)

var (
	ErrSuppressed     = errors.New("submissions suppressed for symbol/side")
	ErrAbandoned      = errors.New("order abandoned after exhausting retries")
	ErrInternalFormat = errors.New("order failed format validation")
	ErrSizeBelowLot   = errors.New("size quantizes below one lot")
)

// RejectKind classifies an exchange rejection.
type RejectKind int

const (
	RejectNone RejectKind = iota
	RejectTick
	RejectSize
	RejectPostOnly
	RejectOther
)

func (k RejectKind) String() string {
	switch k {
	case RejectTick:
		return "tick"
	case RejectSize:
		return "size"
	case RejectPostOnly:
		return "post-only"
	case RejectOther:
		return "other"
	default:
		return "none"
	}
}

// WireOrder is the exchange-legal order handed to the transport. Price and
// size are final wire strings; the submitter validates them before the call.
type WireOrder struct {
	Symbol     string
	Side       quant.Side
	PriceStr   string
	SizeStr    string
	ReduceOnly bool
	PostOnly   bool
	IOC        bool
	Cloid      string
}

type PlaceResult struct {
	OrderID string
	Reject  RejectKind
	Raw     string
}

// Placer is the transport boundary. A non-nil error means the request never
// reached a definitive exchange answer (network/timeout); rejections come
// back in PlaceResult.
type Placer interface {
	Place(ctx context.Context, o WireOrder) (PlaceResult, error)
	Cancel(ctx context.Context, symbol, orderID string) error
}

// SpecSource supplies quantization contexts. Refresh bypasses the TTL cache,
// used when the exchange rejects a price the cached grid considered legal.
type SpecSource interface {
	Context(ctx context.Context, symbol string) (quant.Context, error)
	Refresh(ctx context.Context, symbol string) (quant.Context, error)
}

// Request is one desired quote, already normalized for notional policy.
type Request struct {
	Side       quant.Side
	Price      float64
	SizeCoins  float64
	PostOnly   bool
	IOC        bool
	ReduceOnly bool
}

type Status int

const (
	// StatusPlaced: accepted by the exchange (resting or filled).
	StatusPlaced Status = iota
	// StatusSkipped: deadzone check found the quote too close to the last one.
	StatusSkipped
	// StatusSuppressed: refused locally by the suppression cooldown.
	StatusSuppressed
	// StatusAbandoned: retries exhausted or rejection was not retryable.
	StatusAbandoned
	// StatusFatal: the order failed local validation and was never sent.
	StatusFatal
)

func (s Status) String() string {
	switch s {
	case StatusPlaced:
		return "placed"
	case StatusSkipped:
		return "skipped"
	case StatusSuppressed:
		return "suppressed"
	case StatusAbandoned:
		return "abandoned"
	default:
		return "fatal"
	}
}

type Outcome struct {
	Status   Status
	OrderID  string
	Cloid    string
	Seq      int64
	Attempts int
	Price    quant.Price
	Size     quant.Size
	Err      error
}

// HistoryStatus is the terminal state recorded in the audit trail.
type HistoryStatus string

const (
	HistoryPlaced    HistoryStatus = "placed"
	HistoryModified  HistoryStatus = "modified"
	HistoryCancelled HistoryStatus = "cancelled"
	HistoryFilled    HistoryStatus = "filled"
	HistoryRejected  HistoryStatus = "rejected"
)

type HistoryEntry struct {
	Cloid   string
	OrderID string
	Symbol  string
	Side    quant.Side
	Price   string
	Size    string
	Status  HistoryStatus
	Time    time.Time
}

// Recorder receives terminal order outcomes.
type Recorder interface {
	Record(e HistoryEntry)
}
