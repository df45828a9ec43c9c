// Package journal records completed sells. The journal is an audit trail
// next to the account snapshot; a failing journal write is logged but never
// rolls back a trade.
package journal

import (
	"context"
	"errors"

	"github.com/atmx/trade-engine/internal/ledger"
)

// ErrClosed is returned by a journal after Close.
var ErrClosed = errors.New("journal: closed")

// Journal stores trade results.
type Journal interface {
	Record(ctx context.Context, r ledger.TradeResult) error
	// Recent returns up to limit results, newest first.
	Recent(ctx context.Context, limit int) ([]ledger.TradeResult, error)
	Close() error
}

// Nop discards trade results.
type Nop struct{}

func (Nop) Record(context.Context, ledger.TradeResult) error { return nil }

func (Nop) Recent(context.Context, int) ([]ledger.TradeResult, error) { return nil, nil }

func (Nop) Close() error { return nil }
