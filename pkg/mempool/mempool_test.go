package mempool

import (
	"testing"
)

func TestClassifyRaw_SignedJSON(t *testing.T) {
	tests := []struct {
		name     string
		tx       string
		expected TxType
	}{
		{
			name:     "create_offer",
			tx:       `{"type":"create_offer","offer":{"bid_total":"1000"},"signature":"0x1234"}`,
			expected: TxOffer,
		},
		{
			name:     "create_order",
			tx:       `{"type":"create_order","order":{"ask_amount":"1000"},"signature":"0xabcd"}`,
			expected: TxOrder,
		},
		{
			name:     "settle",
			tx:       `{"type":"settle","settle":{"order":"x"},"signature":"0xabcd"}`,
			expected: TxSettle,
		},
		{
			name:     "invalid JSON goes last",
			tx:       `{"invalid": "json"`,
			expected: TxSettle,
		},
		{
			name:     "non-JSON goes last",
			tx:       "UNKNOWN:foo",
			expected: TxSettle,
		},
		{
			name:     "empty transaction",
			tx:       "",
			expected: TxSettle,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyRaw([]byte(tt.tx))
			if got != tt.expected {
				t.Errorf("ClassifyRaw() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestMempool_Ordering(t *testing.T) {
	m := NewMempool()

	settleTx := `{"type":"settle","settle":{"order":"o1"},"signature":"0x1111"}`
	orderTx1 := `{"type":"create_order","order":{"offer":"a"},"signature":"0x2222"}`
	offerTx1 := `{"type":"create_offer","offer":{"nonce":"1"},"signature":"0x3333"}`
	orderTx2 := `{"type":"create_order","order":{"offer":"b"},"signature":"0x4444"}`
	offerTx2 := `{"type":"create_offer","offer":{"nonce":"2"},"signature":"0x5555"}`

	m.PushRaw([]byte(settleTx))
	m.PushRaw([]byte(orderTx1))
	m.PushRaw([]byte(offerTx1))
	m.PushRaw([]byte(orderTx2))
	m.PushRaw([]byte(offerTx2))

	txs := m.SelectForProposal(10000)
	if len(txs) != 5 {
		t.Fatalf("expected 5 txs, got %d", len(txs))
	}

	// offers, then orders, then settles; FIFO within each bucket
	expectOrder := []string{offerTx1, offerTx2, orderTx1, orderTx2, settleTx}
	for i, expected := range expectOrder {
		if string(txs[i]) != expected {
			t.Errorf("tx[%d] mismatch\ngot:  %q\nwant: %q", i, string(txs[i]), expected)
		}
	}
	if m.Len() != 0 {
		t.Errorf("mempool should be empty, has %d", m.Len())
	}
}

func TestMempool_MaxBytes(t *testing.T) {
	m := NewMempool()

	m.PushRaw([]byte("N:1"))
	m.PushRaw([]byte("N:2"))
	m.PushRaw([]byte("N:3"))

	txs := m.SelectForProposal(6)
	if len(txs) != 2 {
		t.Errorf("expected 2 txs with maxBytes=6, got %d", len(txs))
	}
	if m.Len() != 1 {
		t.Errorf("expected 1 tx remaining, got %d", m.Len())
	}
}

func TestMempool_MaxBytesKeepsBucketOrder(t *testing.T) {
	m := NewMempool()

	bigOffer := `{"type":"create_offer","offer":{"nonce":"1","pad":"xxxxxxxxxxxxxxxxxxxx"}}`
	smallOrder := `{"type":"create_order"}`
	m.PushRaw([]byte(bigOffer))
	m.PushRaw([]byte(smallOrder))

	// the offer does not fit; the order must not jump ahead of it
	txs := m.SelectForProposal(int64(len(smallOrder)))
	if len(txs) != 0 {
		t.Fatalf("expected nothing selected, got %d", len(txs))
	}
	if m.Len() != 2 {
		t.Errorf("expected 2 txs remaining, got %d", m.Len())
	}
}

func TestMempool_SignerNonceOrderAcrossBuckets(t *testing.T) {
	m := NewMempool()

	// taker signs settle (nonce 2) before a new order (nonce 3); the order
	// bucket must not release nonce 3 ahead of nonce 2
	settle := `{"type":"settle","settle":{"owner":"0xAAAA","nonce":"2"},"signature":"0x01"}`
	order := `{"type":"create_order","order":{"owner":"0xaaaa","nonce":"3"},"signature":"0x02"}`
	otherOrder := `{"type":"create_order","order":{"owner":"0xbbbb","nonce":"7"},"signature":"0x03"}`
	offer := `{"type":"create_offer","offer":{"owner":"0xcccc","nonce":"1"},"signature":"0x04"}`

	m.PushRaw([]byte(settle))
	m.PushRaw([]byte(order))
	m.PushRaw([]byte(otherOrder))
	m.PushRaw([]byte(offer))

	txs := m.SelectForProposal(0)
	expectOrder := []string{offer, settle, otherOrder, order}
	if len(txs) != len(expectOrder) {
		t.Fatalf("expected %d txs, got %d", len(expectOrder), len(txs))
	}
	for i, expected := range expectOrder {
		if string(txs[i]) != expected {
			t.Errorf("tx[%d] mismatch\ngot:  %q\nwant: %q", i, string(txs[i]), expected)
		}
	}
}

func TestMempool_MaxBytesNeverSkipsLowerNonce(t *testing.T) {
	m := NewMempool()

	settle := `{"type":"settle","settle":{"owner":"0xaaaa","nonce":"2"},"signature":"0x01"}`
	order := `{"type":"create_order","order":{"owner":"0xaaaa","nonce":"3"},"signature":"0x02"}`
	m.PushRaw([]byte(settle))
	m.PushRaw([]byte(order))

	txs := m.SelectForProposal(int64(len(settle)))
	if len(txs) != 1 || string(txs[0]) != settle {
		t.Fatalf("expected only the nonce 2 settle, got %q", txs)
	}
	if m.Len() != 1 {
		t.Errorf("expected 1 tx remaining, got %d", m.Len())
	}
}

func TestMempool_DuplicatePending(t *testing.T) {
	m := NewMempool()

	tx := []byte(`{"type":"create_offer","offer":{"owner":"0xaaaa","nonce":"1"}}`)
	if !m.PushRaw(tx) {
		t.Fatal("first push rejected")
	}
	if m.PushRaw(tx) {
		t.Fatal("duplicate push accepted")
	}
	if m.Len() != 1 {
		t.Fatalf("expected 1 pending tx, got %d", m.Len())
	}

	m.SelectForProposal(0)
	if !m.PushRaw(tx) {
		t.Error("tx should be accepted again once it left the mempool")
	}
}
