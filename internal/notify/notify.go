// Package notify delivers trading events to operators. Delivery is fire and
// forget: a failing sink never aborts a trading decision.
package notify

import (
	"go.uber.org/zap"

	"github.com/atmx/trade-engine/internal/model"
)

// Notifier receives trading events. Implementations must not block.
type Notifier interface {
	Notify(e model.Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Notify(model.Event) {}

// Log writes events to a zap logger.
type Log struct {
	Logger *zap.Logger
}

func (l Log) Notify(e model.Event) {
	if l.Logger == nil {
		return
	}
	fields := []zap.Field{zap.String("event", e.Type)}
	if e.Pair != "" {
		fields = append(fields, zap.String("pair", e.Pair))
	}
	if e.Type == model.EventError {
		l.Logger.Warn(e.Message, fields...)
		return
	}
	l.Logger.Info(e.Message, fields...)
}

// Multi fans an event out to every notifier.
type Multi []Notifier

func (m Multi) Notify(e model.Event) {
	for _, n := range m {
		if n != nil {
			n.Notify(e)
		}
	}
}
