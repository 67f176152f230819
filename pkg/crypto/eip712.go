package crypto

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP712Domain represents the domain separator for EIP-712 typed data
// This prevents replay attacks across different chains/contracts
type EIP712Domain struct {
	Name              string         // Protocol name (e.g., "TokenEx")
	Version           string         // Protocol version (e.g., "1")
	ChainID           *big.Int       // Chain ID (31337 for local hardhat-style devnets)
	VerifyingContract common.Address // Exchange address
}

// DefaultDomain returns the domain for a chain and exchange address
func DefaultDomain(chainID int64, exchange common.Address) EIP712Domain {
	return EIP712Domain{
		Name:              "TokenEx",
		Version:           "1",
		ChainID:           big.NewInt(chainID),
		VerifyingContract: exchange,
	}
}

var domainType = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

// TypedMessage is one struct to sign: its type name, field layout and values.
// Values follow apitypes conventions (decimal strings for uintN, hex for addresses).
type TypedMessage struct {
	PrimaryType string
	Fields      []apitypes.Type
	Message     apitypes.TypedDataMessage
}

// EIP712Signer hashes, signs and recovers typed messages under one domain
type EIP712Signer struct {
	domain EIP712Domain
}

// NewEIP712Signer creates a new EIP-712 signer with given domain
func NewEIP712Signer(domain EIP712Domain) *EIP712Signer {
	return &EIP712Signer{domain: domain}
}

func (e *EIP712Signer) Domain() EIP712Domain {
	return e.domain
}

func (e *EIP712Signer) typedData(m *TypedMessage) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainType,
			m.PrimaryType:  m.Fields,
		},
		PrimaryType: m.PrimaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: m.Message,
	}
}

// Hash returns the EIP-712 digest of a typed message
func (e *EIP712Signer) Hash(m *TypedMessage) ([]byte, error) {
	typedData := e.typedData(m)

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	typedDataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	// Final digest: keccak256("\x19\x01" || domainSeparator || typedDataHash)
	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(typedDataHash)))
	return crypto.Keccak256Hash(rawData).Bytes(), nil
}

// Sign signs a typed message and returns the 65-byte signature
func (e *EIP712Signer) Sign(signer *Signer, m *TypedMessage) ([]byte, error) {
	hash, err := e.Hash(m)
	if err != nil {
		return nil, fmt.Errorf("failed to hash %s: %w", m.PrimaryType, err)
	}

	signature, err := signer.Sign(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to sign %s: %w", m.PrimaryType, err)
	}
	return signature, nil
}

// Recover returns the address that signed a typed message
func (e *EIP712Signer) Recover(m *TypedMessage, signature []byte) (common.Address, error) {
	hash, err := e.Hash(m)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to hash %s: %w", m.PrimaryType, err)
	}
	return RecoverAddress(hash, signature)
}

// ToJSON renders the typed data in the shape wallets expect for eth_signTypedData_v4
func (e *EIP712Signer) ToJSON(m *TypedMessage) (string, error) {
	jsonBytes, err := json.MarshalIndent(e.typedData(m), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(jsonBytes), nil
}
