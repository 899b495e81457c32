package crypto_test

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/exchangemarket/pkg/crypto"
)

// A maker signs a create_offer instruction; the node recovers the owner.
func ExampleEIP712Signer_Sign() {
	signer, err := crypto.GenerateKey()
	if err != nil {
		panic(err)
	}

	e := crypto.NewEIP712Signer(crypto.DefaultDomain())
	offer := &crypto.OfferEIP712{
		BidAsset: common.HexToAddress("0xA55E700000000000000000000000000000000001"),
		BidTotal: big.NewInt(1000),
		BidRate:  big.NewInt(5),
		Nonce:    big.NewInt(1),
		Owner:    signer.Address(),
	}

	sig, err := e.Sign(signer, offer)
	if err != nil {
		panic(err)
	}

	owner, err := e.Recover(offer, sig)
	if err != nil {
		panic(err)
	}
	fmt.Println(owner == signer.Address())
	// Output: true
}
