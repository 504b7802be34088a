package broker

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"quantlab/internal/domain"
)

// Compile-time interface check.
var _ Broker = (*SimulatorBroker)(nil)

// SimulatorBroker fills orders immediately at the order price with a
// symmetric proportional commission. Cash is kept in decimal so repeated
// fills do not accumulate rounding error.
type SimulatorBroker struct {
	commission decimal.Decimal
	cash       decimal.Decimal
	shares     int64
	costBasis  decimal.Decimal
	entryPrice float64
}

// NewSimulatorBroker creates a SimulatorBroker holding capital in cash.
func NewSimulatorBroker(capital, commission float64) *SimulatorBroker {
	return &SimulatorBroker{
		commission: decimal.NewFromFloat(commission),
		cash:       decimal.NewFromFloat(capital),
	}
}

// Name returns "simulator".
func (b *SimulatorBroker) Name() string {
	return "simulator"
}

// SubmitOrder buys as many whole shares as cash allows, or sells the whole
// position.
func (b *SimulatorBroker) SubmitOrder(_ context.Context, order Order) (domain.Trade, error) {
	switch order.Side {
	case domain.TradeBuy:
		return b.buy(order)
	case domain.TradeSell:
		return b.sell(order)
	}
	return domain.Trade{}, fmt.Errorf("unknown order side %q", order.Side)
}

func (b *SimulatorBroker) buy(order Order) (domain.Trade, error) {
	if b.shares > 0 {
		return domain.Trade{}, ErrPositionOpen
	}
	one := decimal.NewFromInt(1)
	price := decimal.NewFromFloat(order.Price)
	unit := price.Mul(one.Add(b.commission))
	if !unit.IsPositive() {
		return domain.Trade{}, fmt.Errorf("invalid fill price %v", order.Price)
	}

	shares := b.cash.Div(unit).Floor().IntPart()
	if shares < 1 {
		return domain.Trade{}, ErrInsufficientFunds
	}
	cost := unit.Mul(decimal.NewFromInt(shares))

	b.cash = b.cash.Sub(cost)
	b.shares = shares
	b.costBasis = cost
	b.entryPrice = order.Price

	return domain.Trade{
		Date:   order.Date,
		Type:   domain.TradeBuy,
		Price:  order.Price,
		Shares: shares,
		Value:  cost.InexactFloat64(),
		Reason: order.Reason,
	}, nil
}

func (b *SimulatorBroker) sell(order Order) (domain.Trade, error) {
	if b.shares == 0 {
		return domain.Trade{}, ErrNoPosition
	}
	one := decimal.NewFromInt(1)
	proceeds := decimal.NewFromFloat(order.Price).
		Mul(decimal.NewFromInt(b.shares)).
		Mul(one.Sub(b.commission))
	pnl := proceeds.Sub(b.costBasis)

	t := domain.Trade{
		Date:   order.Date,
		Type:   domain.TradeSell,
		Price:  order.Price,
		Shares: b.shares,
		Value:  proceeds.InexactFloat64(),
		PnL:    pnl.InexactFloat64(),
		Reason: order.Reason,
	}

	b.cash = b.cash.Add(proceeds)
	b.shares = 0
	b.costBasis = decimal.Zero
	b.entryPrice = 0
	return t, nil
}

// GetAccount returns the simulated account state.
func (b *SimulatorBroker) GetAccount(_ context.Context) (AccountInfo, error) {
	return AccountInfo{
		Cash:       b.cash.InexactFloat64(),
		Shares:     b.shares,
		EntryPrice: b.entryPrice,
		CostBasis:  b.costBasis.InexactFloat64(),
	}, nil
}

// Equity marks the position to price.
func (b *SimulatorBroker) Equity(price float64) (cash, positionValue, equity float64) {
	pos := decimal.NewFromFloat(price).Mul(decimal.NewFromInt(b.shares))
	return b.cash.InexactFloat64(), pos.InexactFloat64(), b.cash.Add(pos).InexactFloat64()
}
