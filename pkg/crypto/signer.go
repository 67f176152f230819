package crypto

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is R || S || V
const SignatureLength = crypto.SignatureLength

var ErrBadSignature = errors.New("bad signature")

// Signer holds a secp256k1 key and the account address derived from it
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

func newSigner(key *ecdsa.PrivateKey) *Signer {
	return &Signer{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

func GenerateKey() (*Signer, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return newSigner(key), nil
}

// FromPrivateKeyHex accepts 64 hex chars, with or without 0x
func FromPrivateKeyHex(hexKey string) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return newSigner(key), nil
}

func (s *Signer) Address() common.Address { return s.address }

// PrivateKeyHex is the raw key without 0x. Never log it.
func (s *Signer) PrivateKeyHex() string { return fmt.Sprintf("%x", crypto.FromECDSA(s.key)) }

// PublicKeyHex is the uncompressed public key (65 bytes)
func (s *Signer) PublicKeyHex() string { return fmt.Sprintf("%x", crypto.FromECDSAPub(&s.key.PublicKey)) }

// Sign signs a 32-byte digest. V is 27 or 28, as wallets return it from
// eth_signTypedData_v4.
func (s *Signer) Sign(hash []byte) ([]byte, error) {
	if len(hash) != common.HashLength {
		return nil, fmt.Errorf("hash must be 32 bytes, got %d", len(hash))
	}
	sig, err := crypto.Sign(hash, s.key)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// RecoverAddress returns the account that produced signature over hash.
// V may be 0/1 or 27/28.
func RecoverAddress(hash, signature []byte) (common.Address, error) {
	if len(signature) != SignatureLength {
		return common.Address{}, fmt.Errorf("%w: length %d", ErrBadSignature, len(signature))
	}
	if len(hash) != common.HashLength {
		return common.Address{}, fmt.Errorf("%w: hash length %d", ErrBadSignature, len(hash))
	}
	sig := make([]byte, SignatureLength)
	copy(sig, signature)
	if v := sig[crypto.RecoveryIDOffset]; v >= 27 {
		sig[crypto.RecoveryIDOffset] = v - 27
	}
	if sig[crypto.RecoveryIDOffset] > 1 {
		return common.Address{}, fmt.Errorf("%w: recovery id %d", ErrBadSignature, signature[crypto.RecoveryIDOffset])
	}

	pub, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %w", ErrBadSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

func EncodeSignature(signature []byte) string { return hexutil.Encode(signature) }

// DecodeSignature parses 65 bytes of hex, 0x prefix optional
func DecodeSignature(sig string) ([]byte, error) {
	if !strings.HasPrefix(sig, "0x") {
		sig = "0x" + sig
	}
	b, err := hexutil.Decode(sig)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadSignature, err)
	}
	if len(b) != SignatureLength {
		return nil, fmt.Errorf("%w: signature must be 65 bytes, got %d", ErrBadSignature, len(b))
	}
	return b, nil
}
