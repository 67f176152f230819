package transaction

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/tokenex/pkg/crypto"
)

var ErrInvalidSignature = errors.New("invalid signature")

// Verifier handles transaction signing and signature verification under
// one EIP-712 domain
type Verifier struct {
	eip712Signer *crypto.EIP712Signer
}

// NewVerifier creates a new transaction verifier
func NewVerifier(domain crypto.EIP712Domain) *Verifier {
	return &Verifier{eip712Signer: crypto.NewEIP712Signer(domain)}
}

func (v *Verifier) Domain() crypto.EIP712Domain {
	return v.eip712Signer.Domain()
}

// Verify checks structure and signature. Returns the sender, which always
// equals tx.From on success.
func (v *Verifier) Verify(tx *SignedTransaction) (common.Address, error) {
	msg, err := tx.TypedMessage()
	if err != nil {
		return common.Address{}, err
	}

	sigBytes, err := crypto.DecodeSignature(tx.Signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	recovered, err := v.eip712Signer.Recover(msg, sigBytes)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if recovered != tx.Sender() {
		return common.Address{}, fmt.Errorf("%w: signed by %s, claims %s",
			ErrInvalidSignature, recovered.Hex(), tx.Sender().Hex())
	}
	return recovered, nil
}

// Sign fills in From and Signature using signer's key
func (v *Verifier) Sign(tx *SignedTransaction, signer *crypto.Signer) error {
	tx.From = signer.Address().Hex()
	tx.Signature = "0x" // placeholder so structural validation passes

	msg, err := tx.TypedMessage()
	if err != nil {
		return err
	}
	sig, err := v.eip712Signer.Sign(signer, msg)
	if err != nil {
		return err
	}
	tx.Signature = crypto.EncodeSignature(sig)
	return nil
}

// TypedDataJSON renders what a wallet would be asked to sign for tx
func (v *Verifier) TypedDataJSON(tx *SignedTransaction) (string, error) {
	if tx.Signature == "" {
		tx.Signature = "0x"
		defer func() { tx.Signature = "" }()
	}
	msg, err := tx.TypedMessage()
	if err != nil {
		return "", err
	}
	return v.eip712Signer.ToJSON(msg)
}
