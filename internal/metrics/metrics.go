package metrics

type Counter interface {
	Inc()
}

type Metrics struct {
	OrdersPlaced        Counter
	OrdersFailed        Counter
	TickRejections      Counter
	PostOnlyRejections  Counter
	SuppressionsEngaged Counter
	InventoryBlocks     Counter
	RiskBlocks          Counter
	CancelsThrottled    Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		OrdersPlaced:        n,
		OrdersFailed:        n,
		TickRejections:      n,
		PostOnlyRejections:  n,
		SuppressionsEngaged: n,
		InventoryBlocks:     n,
		RiskBlocks:          n,
		CancelsThrottled:    n,
	}
}
