package app

import (
	"context"
	"fmt"
	"strconv"

	"hl-mm-bot/internal/hl/exchange"
	"hl-mm-bot/internal/market"
	"hl-mm-bot/internal/quant"
	"hl-mm-bot/internal/submit"
	"hl-mm-bot/internal/throttle"
)

// exchangePlacer adapts the signing exchange client to the submitter's
// transport boundary. Every transport call spends request weight; when the
// budget runs low the near-limit hook reserves extra weight.
type exchangePlacer struct {
	client      *exchange.Client
	market      *market.MarketData
	weights     *throttle.WeightCounter
	onNearLimit func(ctx context.Context)
}

func (p *exchangePlacer) Place(ctx context.Context, o submit.WireOrder) (submit.PlaceResult, error) {
	asset, ok := p.market.AssetID(o.Symbol)
	if !ok {
		return submit.PlaceResult{}, fmt.Errorf("unknown asset %q", o.Symbol)
	}
	tif := exchange.TifGtc
	switch {
	case o.IOC:
		tif = exchange.TifIoc
	case o.PostOnly:
		tif = exchange.TifAlo
	}
	wire, err := exchange.NewLimitOrder(asset, o.Side == quant.Buy, o.PriceStr, o.SizeStr, o.ReduceOnly, tif, o.Cloid)
	if err != nil {
		return submit.PlaceResult{}, err
	}
	p.spend(ctx)
	status, err := p.client.PlaceOrder(ctx, wire)
	if err != nil {
		return submit.PlaceResult{}, err
	}
	return submit.PlaceResult{
		OrderID: status.OrderID,
		Reject:  rejectKind(status.Reject),
		Raw:     status.Error,
	}, nil
}

func (p *exchangePlacer) Cancel(ctx context.Context, symbol, orderID string) error {
	asset, ok := p.market.AssetID(symbol)
	if !ok {
		return fmt.Errorf("unknown asset %q", symbol)
	}
	oid, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("order id %q: %w", orderID, err)
	}
	p.spend(ctx)
	return p.client.CancelOrder(ctx, asset, oid)
}

func (p *exchangePlacer) spend(ctx context.Context) {
	if p.weights == nil {
		return
	}
	if _, near := p.weights.Add(1); near && p.onNearLimit != nil {
		p.onNearLimit(ctx)
	}
}

func rejectKind(r exchange.RejectReason) submit.RejectKind {
	switch r {
	case exchange.RejectTick:
		return submit.RejectTick
	case exchange.RejectSize:
		return submit.RejectSize
	case exchange.RejectPostOnly:
		return submit.RejectPostOnly
	case exchange.RejectOther:
		return submit.RejectOther
	default:
		return submit.RejectNone
	}
}
