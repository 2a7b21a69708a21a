package brokerobs

import (
	"context"
	"errors"
	"time"

	"tradeflow/internal/interfaces"
	"tradeflow/internal/logger"
	"tradeflow/internal/trace"
	"tradeflow/internal/types"
)

// observableBroker wraps a Broker with logging, tracing and a per-call deadline
type observableBroker struct {
	broker  interfaces.Broker
	timeout time.Duration
}

// Compile-time interface check
var _ interfaces.Broker = (*observableBroker)(nil)

// Wrap wraps a broker with observability middleware. A zero timeout leaves
// the caller's deadline in charge.
func Wrap(broker interfaces.Broker, timeout time.Duration) interfaces.Broker {
	return &observableBroker{
		broker:  broker,
		timeout: timeout,
	}
}

func (ob *observableBroker) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if ob.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, ob.timeout)
}

func (ob *observableBroker) Name() string { return ob.broker.Name() }

// SubmitOrder places an order with observability
func (ob *observableBroker) SubmitOrder(ctx context.Context, req types.OrderRequest) (types.OrderAck, error) {
	ctx, span := trace.StartSpan(ctx, "broker.SubmitOrder")
	defer span.End()
	ctx, cancel := ob.bound(ctx)
	defer cancel()

	logger.InfoSkip(ctx, 1, "Submitting order",
		"broker", ob.broker.Name(),
		"symbol", req.Symbol,
		"side", req.Side,
		"qty", req.Qty.String(),
		"kind", req.Kind,
		"client_order_id", req.ClientOrderID,
	)

	ack, err := ob.broker.SubmitOrder(ctx, req)
	if err != nil {
		if reason, ok := types.RejectReason(err); ok {
			logger.WarnSkip(ctx, 1, "Order rejected by broker",
				"symbol", req.Symbol,
				"client_order_id", req.ClientOrderID,
				"reason", reason,
			)
			return types.OrderAck{}, err
		}
		logger.ErrorWithErrSkip(ctx, 1, "Failed to submit order", err,
			"symbol", req.Symbol,
			"client_order_id", req.ClientOrderID,
		)
		return types.OrderAck{}, err
	}

	logger.InfoSkip(ctx, 1, "Order accepted",
		"symbol", req.Symbol,
		"broker_order_id", ack.BrokerOrderID,
		"status", ack.Status,
	)
	return ack, nil
}

// CancelOrder cancels an order with observability
func (ob *observableBroker) CancelOrder(ctx context.Context, brokerOrderID string) error {
	ctx, span := trace.StartSpan(ctx, "broker.CancelOrder")
	defer span.End()
	ctx, cancel := ob.bound(ctx)
	defer cancel()

	logger.InfoSkip(ctx, 1, "Cancelling order", "broker_order_id", brokerOrderID)

	err := ob.broker.CancelOrder(ctx, brokerOrderID)
	switch {
	case err == nil:
		logger.InfoSkip(ctx, 1, "Order cancelled", "broker_order_id", brokerOrderID)
	case errors.Is(err, types.ErrNotCancelable), errors.Is(err, types.ErrOrderNotFound):
		logger.WarnSkip(ctx, 1, "Order could not be cancelled", "broker_order_id", brokerOrderID, "error", err)
	default:
		logger.ErrorWithErrSkip(ctx, 1, "Failed to cancel order", err, "broker_order_id", brokerOrderID)
	}
	return err
}

// GetOrder fetches order status with observability
func (ob *observableBroker) GetOrder(ctx context.Context, brokerOrderID string) (types.OrderUpdate, error) {
	ctx, span := trace.StartSpan(ctx, "broker.GetOrder")
	defer span.End()
	ctx, cancel := ob.bound(ctx)
	defer cancel()

	u, err := ob.broker.GetOrder(ctx, brokerOrderID)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch order", err, "broker_order_id", brokerOrderID)
		return types.OrderUpdate{}, err
	}

	logger.DebugSkip(ctx, 1, "Order fetched",
		"broker_order_id", brokerOrderID,
		"status", u.Status,
		"filled_qty", u.FilledQty.String(),
	)
	return u, nil
}

// GetOpenPositions fetches venue holdings with observability
func (ob *observableBroker) GetOpenPositions(ctx context.Context) ([]types.Holding, error) {
	ctx, span := trace.StartSpan(ctx, "broker.GetOpenPositions")
	defer span.End()
	ctx, cancel := ob.bound(ctx)
	defer cancel()

	hs, err := ob.broker.GetOpenPositions(ctx)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch open positions", err)
		return nil, err
	}

	logger.DebugSkip(ctx, 1, "Open positions fetched", "count", len(hs))
	return hs, nil
}

// GetLatestQuote fetches a quote with observability
func (ob *observableBroker) GetLatestQuote(ctx context.Context, symbol string) (types.Quote, error) {
	ctx, span := trace.StartSpan(ctx, "broker.GetLatestQuote")
	defer span.End()
	ctx, cancel := ob.bound(ctx)
	defer cancel()

	q, err := ob.broker.GetLatestQuote(ctx, symbol)
	if err != nil {
		if errors.Is(err, types.ErrNoQuote) {
			logger.WarnSkip(ctx, 1, "No quote available", "symbol", symbol)
			return types.Quote{}, err
		}
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch quote", err, "symbol", symbol)
		return types.Quote{}, err
	}

	logger.DebugSkip(ctx, 1, "Quote fetched", "symbol", symbol, "bid", q.Bid.String(), "ask", q.Ask.String())
	return q, nil
}
