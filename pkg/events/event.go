// Package events fans escrow outcomes out to subscribers: a Kafka topic for
// downstream services and the API's WebSocket hub for browsers.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

type Type string

const (
	OfferCreated       Type = "offer_created"
	OrderCreated       Type = "order_created"
	SettlementExecuted Type = "settlement_executed"
	TxFailed           Type = "tx_failed"
)

// Event is one applied (or rejected) instruction.
type Event struct {
	Type      Type           `json:"type"`
	Height    uint64         `json:"height"`
	TxHash    common.Hash    `json:"tx_hash"`
	OfferID   string         `json:"offer_id,omitempty"`
	OrderID   string         `json:"order_id,omitempty"`
	Owner     common.Address `json:"owner"`
	Asset     common.Address `json:"asset,omitempty"`
	Amount    uint64         `json:"amount,omitempty"`
	Code      string         `json:"code,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Fanout publishes to every sink; a failing sink does not stop the others.
type Fanout struct {
	sinks []Publisher
	log   *zap.SugaredLogger
}

func NewFanout(log *zap.SugaredLogger, sinks ...Publisher) *Fanout {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Fanout{sinks: sinks, log: log}
}

// Add registers another sink. Not safe to call concurrently with Publish.
func (f *Fanout) Add(p Publisher) {
	f.sinks = append(f.sinks, p)
}

func (f *Fanout) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Publish(ctx, ev); err != nil {
			f.log.Warnw("event_publish_failed", "type", ev.Type, "tx", ev.TxHash.Hex(), "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
