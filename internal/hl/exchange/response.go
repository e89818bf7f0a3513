package exchange

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// RejectReason buckets the exchange's per-order error strings into the
// classes the retry ladder cares about.
type RejectReason int

const (
	RejectNone RejectReason = iota
	RejectTick
	RejectSize
	RejectPostOnly
	RejectOther
)

func (r RejectReason) String() string {
	switch r {
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

// OrderStatus is the parsed per-order outcome from an order or batchModify
// response. Statuses come back in the same position as the submitted orders.
type OrderStatus struct {
	OrderID string
	Cloid   string
	Filled  bool
	Reject  RejectReason
	Error   string
}

// ParseOrderStatuses walks response.data.statuses. A top-level status other
// than "ok" is returned as an error: the whole action was refused, usually a
// signature or nonce problem rather than a per-order rejection.
func ParseOrderStatuses(resp map[string]any) ([]OrderStatus, error) {
	if resp == nil {
		return nil, errors.New("empty exchange response")
	}
	if status, ok := resp["status"].(string); ok && status != "ok" {
		return nil, fmt.Errorf("exchange refused action: %v", resp["response"])
	}
	inner, _ := resp["response"].(map[string]any)
	data, _ := inner["data"].(map[string]any)
	rawStatuses, _ := data["statuses"].([]any)
	if len(rawStatuses) == 0 {
		return nil, errors.New("exchange response missing statuses")
	}
	out := make([]OrderStatus, 0, len(rawStatuses))
	for _, raw := range rawStatuses {
		out = append(out, parseOneStatus(raw))
	}
	return out, nil
}

func parseOneStatus(raw any) OrderStatus {
	entry, ok := raw.(map[string]any)
	if !ok {
		if s, ok := raw.(string); ok {
			return OrderStatus{Reject: ClassifyReject(s), Error: s}
		}
		return OrderStatus{Reject: RejectOther, Error: fmt.Sprintf("%v", raw)}
	}
	if resting, ok := entry["resting"].(map[string]any); ok {
		return OrderStatus{
			OrderID: numericID(resting["oid"]),
			Cloid:   cloidFrom(resting),
		}
	}
	if filled, ok := entry["filled"].(map[string]any); ok {
		return OrderStatus{
			OrderID: numericID(filled["oid"]),
			Cloid:   cloidFrom(filled),
			Filled:  true,
		}
	}
	if msg, ok := entry["error"].(string); ok {
		return OrderStatus{Reject: ClassifyReject(msg), Error: msg}
	}
	return OrderStatus{Reject: RejectOther, Error: fmt.Sprintf("%v", entry)}
}

// ClassifyReject maps the exchange's free-text order errors onto retryable
// classes. Unrecognized messages fall through to RejectOther.
func ClassifyReject(msg string) RejectReason {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "tick size"),
		strings.Contains(lower, "invalid price"),
		strings.Contains(lower, "px must be divisible"),
		strings.Contains(lower, "price must be divisible"):
		return RejectTick
	case strings.Contains(lower, "minimum value"),
		strings.Contains(lower, "invalid size"),
		strings.Contains(lower, "lot size"),
		strings.Contains(lower, "order size"):
		return RejectSize
	case strings.Contains(lower, "post only"),
		strings.Contains(lower, "post-only"),
		strings.Contains(lower, "immediately match"):
		return RejectPostOnly
	default:
		return RejectOther
	}
}

func numericID(v any) string {
	switch val := v.(type) {
	case float64:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case int:
		return strconv.Itoa(val)
	case string:
		return val
	default:
		return ""
	}
}

func cloidFrom(m map[string]any) string {
	s, _ := m["cloid"].(string)
	return s
}
