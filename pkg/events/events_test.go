package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

type fakeWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestFanoutDeliversToAllSinks(t *testing.T) {
	failing := &recorder{err: errors.New("broker down")}
	ok := &recorder{}
	f := NewFanout(zaptest.NewLogger(t).Sugar(), failing, ok)
	f.Add(Nop{})

	err := f.Publish(context.Background(), Event{Type: OfferCreated, OfferID: "o1"})
	require.ErrorContains(t, err, "broker down")
	require.Len(t, failing.events, 1)
	require.Len(t, ok.events, 1)
	require.Equal(t, "o1", ok.events[0].OfferID)
}

func TestKafkaPublisherKeysByOffer(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w}
	owner := common.HexToAddress("0xBB00000000000000000000000000000000000000")

	require.NoError(t, p.Publish(context.Background(), Event{Type: SettlementExecuted, OfferID: "offer-1", Owner: owner, Amount: 2000}))
	require.NoError(t, p.Publish(context.Background(), Event{Type: TxFailed, Owner: owner, Code: "terms_unmet"}))
	require.NoError(t, p.Close())

	require.Len(t, w.msgs, 2)
	require.Equal(t, "offer-1", string(w.msgs[0].Key))
	require.Equal(t, owner.Hex(), string(w.msgs[1].Key))
	require.Equal(t, "settlement_executed", string(w.msgs[0].Headers[0].Value))

	var ev Event
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &ev))
	require.Equal(t, uint64(2000), ev.Amount)
	require.True(t, w.closed)
}
