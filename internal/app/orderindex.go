package app

import (
	"context"
	"time"

	"hl-mm-bot/internal/state"
	"hl-mm-bot/internal/submit"

	"go.uber.org/zap"
)

const orderIndexTimeout = 2 * time.Second

// orderIndex persists the cloid to exchange order id mapping so a restarted
// process can tell its own resubmission from a fresh order. Entries for
// terminal orders are pruned as they resolve.
type orderIndex struct {
	store state.Store
	log   *zap.Logger
}

func (x *orderIndex) Record(e submit.HistoryEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), orderIndexTimeout)
	defer cancel()
	var err error
	switch e.Status {
	case submit.HistoryPlaced, submit.HistoryModified:
		err = state.SaveCloidOrderID(ctx, x.store, e.Cloid, e.OrderID)
	case submit.HistoryCancelled, submit.HistoryFilled:
		err = state.DeleteCloidOrderID(ctx, x.store, e.Cloid)
	}
	if err != nil {
		x.log.Warn("order index update failed",
			zap.String("cloid", e.Cloid),
			zap.Error(err))
	}
}
