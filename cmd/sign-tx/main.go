package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/exchangemarket/params"
	"github.com/uhyunpark/exchangemarket/pkg/crypto"
	"github.com/uhyunpark/exchangemarket/pkg/escrow"
	"github.com/uhyunpark/exchangemarket/pkg/transaction"
)

func main() {
	var (
		txType    = flag.String("type", "create_offer", "create_offer | create_order | settle")
		keyHex    = flag.String("key", "", "hex private key (empty = generate)")
		nonce     = flag.Uint64("nonce", 1, "instruction nonce, must exceed the last accepted one")
		asset     = flag.String("asset", "", "bid asset (create_offer) or ask asset (create_order, optional)")
		amount    = flag.String("amount", "1000", "bid_total or ask_amount, smallest unit")
		rate      = flag.String("rate", "5", "bid_rate or ask_rate")
		offer     = flag.String("offer", "", "offer id (create_order, settle)")
		order     = flag.String("order", "", "order id (settle)")
		envPath   = flag.String("env", "", ".env file for the signing domain")
		quiet     = flag.Bool("quiet", false, "print only the JSON envelope")
	)
	flag.Parse()

	cfg, err := params.LoadFromEnv(*envPath)
	if err != nil {
		fail("config", err)
	}
	domain := crypto.EIP712Domain{
		Name:              cfg.Program.Name,
		Version:           cfg.Program.Version,
		ChainID:           cfg.Program.ChainID,
		VerifyingContract: cfg.Program.ID,
	}

	signer, err := loadSigner(*keyHex)
	if err != nil {
		fail("key", err)
	}
	owner := signer.Address()
	n := new(big.Int).SetUint64(*nonce)

	var msg crypto.TypedMessage
	switch transaction.TxType(*txType) {
	case transaction.TxTypeCreateOffer:
		if !common.IsHexAddress(*asset) {
			fail("asset", fmt.Errorf("create_offer needs -asset"))
		}
		msg = &crypto.OfferEIP712{
			BidAsset: common.HexToAddress(*asset),
			BidTotal: mustBig("amount", *amount),
			BidRate:  mustBig("rate", *rate),
			Nonce:    n,
			Owner:    owner,
		}
	case transaction.TxTypeCreateOrder:
		m := &crypto.OrderEIP712{
			Offer:     *offer,
			AskRate:   mustBig("rate", *rate),
			AskAmount: mustBig("amount", *amount),
			Nonce:     n,
			Owner:     owner,
		}
		if *asset != "" {
			m.AskAsset = common.HexToAddress(*asset)
		}
		msg = m
	case transaction.TxTypeSettle:
		msg = &crypto.SettleEIP712{Order: *order, Offer: *offer, Nonce: n, Owner: owner}
	default:
		fail("type", fmt.Errorf("unknown type %q", *txType))
	}

	signedTx, err := transaction.Sign(domain, signer, msg)
	if err != nil {
		fail("sign", err)
	}
	if err := signedTx.Validate(); err != nil {
		fail("validate", err)
	}
	if _, err := transaction.NewVerifier(domain).Verify(signedTx); err != nil {
		fail("verify", err)
	}

	txJSON, err := json.MarshalIndent(signedTx, "", "  ")
	if err != nil {
		fail("marshal", err)
	}
	if *quiet {
		fmt.Println(string(txJSON))
		return
	}

	fmt.Printf("Address: %s\n", owner.Hex())
	if *keyHex == "" {
		fmt.Printf("Private Key: %s (KEEP SECRET!)\n", signer.PrivateKeyHex())
	}
	switch transaction.TxType(*txType) {
	case transaction.TxTypeCreateOffer:
		fmt.Printf("Offer ID: %s\n", escrow.NewOfferID(owner, *nonce))
	case transaction.TxTypeCreateOrder:
		fmt.Printf("Order ID: %s\n", escrow.NewOrderID(owner, *nonce))
	}
	fmt.Println()
	fmt.Println("Signed Transaction (JSON):")
	fmt.Println(string(txJSON))
	fmt.Println()
	fmt.Println("Submit with:")
	fmt.Println("  POST http://localhost:8080/api/v1/tx")
	fmt.Println("  Content-Type: application/json")
}

func loadSigner(keyHex string) (*crypto.Signer, error) {
	if keyHex == "" {
		return crypto.GenerateKey()
	}
	return crypto.FromPrivateKeyHex(keyHex)
}

func mustBig(name, s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		fail(name, fmt.Errorf("invalid number %q", s))
	}
	return v
}

func fail(step string, err error) {
	fmt.Fprintf(os.Stderr, "Error (%s): %v\n", step, err)
	os.Exit(1)
}
