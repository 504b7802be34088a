// Package broker defines the Broker interface the backtest simulator fills
// orders through, and a simulated implementation that keeps a single-symbol
// long-only account.
package broker

import (
	"context"
	"errors"
	"time"

	"quantlab/internal/domain"
)

// Fill rejections. They are not run failures: the simulator degrades the bar
// to HOLD.
var (
	ErrInsufficientFunds = errors.New("insufficient funds for one share")
	ErrPositionOpen      = errors.New("position already open")
	ErrNoPosition        = errors.New("no position to sell")
)

// Order is a market order filled at Price on Date.
type Order struct {
	Date   time.Time
	Side   domain.TradeType
	Price  float64
	Reason string
}

// AccountInfo is a snapshot of the account.
type AccountInfo struct {
	Cash       float64
	Shares     int64
	EntryPrice float64
	CostBasis  float64
}

// Broker abstracts order execution and account state.
type Broker interface {
	// Name returns the broker identifier (e.g. "simulator").
	Name() string

	// SubmitOrder fills an order and returns the resulting trade.
	SubmitOrder(ctx context.Context, order Order) (domain.Trade, error)

	// GetAccount returns the current account snapshot.
	GetAccount(ctx context.Context) (AccountInfo, error)

	// Equity marks the account to price.
	Equity(price float64) (cash, positionValue, equity float64)
}
