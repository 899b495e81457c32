package api

// API response types for REST endpoints and WebSocket messages

// ==============================
// REST Response Types
// ==============================

// OfferInfo represents an offer with its live treasury balance
type OfferInfo struct {
	ID        string `json:"id"`
	Owner     string `json:"owner"`
	BidAsset  string `json:"bidAsset"`
	BidTotal  uint64 `json:"bidTotal"`  // Smallest asset unit
	BidRate   uint64 `json:"bidRate"`   // Raw rate (1e9 fixed point)
	Rate      string `json:"rate"`      // BidRate as decimal, e.g. "1.5"
	Authority string `json:"authority"` // Custodial authority owning the treasuries
	Treasury  uint64 `json:"treasury"`  // Current bid treasury balance
	Status    string `json:"status"`
	CreatedAt int64  `json:"createdAt"` // Unix milliseconds
}

// OrderInfo represents an order and, once settled, its settlement
type OrderInfo struct {
	ID         string          `json:"id"`
	Owner      string          `json:"owner"`
	Offer      string          `json:"offer"`
	AskAsset   string          `json:"askAsset"`
	AskAmount  uint64          `json:"askAmount"`
	AskRate    uint64          `json:"askRate"`
	Rate       string          `json:"rate"`
	Status     string          `json:"status"` // "open" | "settled"
	CreatedAt  int64           `json:"createdAt"`
	Settlement *SettlementInfo `json:"settlement,omitempty"`
}

type SettlementInfo struct {
	Taker     string `json:"taker"`
	Asset     string `json:"asset"`
	Amount    uint64 `json:"amount"`
	ProofID   string `json:"proofId"`
	SettledAt int64  `json:"settledAt"`
}

// BalanceInfo is the balance of one token account
type BalanceInfo struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
	Balance uint64 `json:"balance"`
}

type NonceInfo struct {
	Address string `json:"address"`
	Nonce   uint64 `json:"nonce"` // Last accepted; the next instruction must use a larger one
}

// ChainStatus represents sequencing status
type ChainStatus struct {
	Height      uint64 `json:"height"`
	AppHash     string `json:"appHash"`
	MempoolSize int    `json:"mempoolSize"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSMessage is the base structure for all WebSocket messages
type WSMessage struct {
	Type    string      `json:"type"`              // event type, or "subscribed"/"unsubscribed"
	Channel string      `json:"channel,omitempty"` // channel the message was delivered on
	Data    interface{} `json:"data,omitempty"`
}

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["offer:<uuid>", "account:0x..."]
}

// ==============================
// REST Request Types
// ==============================

// Submissions to POST /api/v1/tx are signed JSON envelopes (EIP-712).
// See pkg/transaction/types.go for SignedTransaction.

// FaucetRequest is the payload for POST /api/v1/faucet
type FaucetRequest struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
	Amount  uint64 `json:"amount"`
}

// SubmitTxResponse is the response from transaction submission
type SubmitTxResponse struct {
	Status string `json:"status"` // "submitted"
	TxHash string `json:"txHash"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
