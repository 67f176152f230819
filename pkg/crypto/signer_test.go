package crypto

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	eth_crypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// first hardhat dev account
const devKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var devAddr = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

func TestGenerateKey(t *testing.T) {
	signer, err := GenerateKey()
	require.NoError(t, err)

	assert.NotEqual(t, common.Address{}, signer.Address())
	// 32-byte private key, 65-byte uncompressed public key
	assert.Len(t, signer.PrivateKeyHex(), 64)
	assert.Len(t, signer.PublicKeyHex(), 130)
}

func TestFromPrivateKeyHex(t *testing.T) {
	for _, key := range []string{devKey, "0x" + devKey} {
		signer, err := FromPrivateKeyHex(key)
		require.NoError(t, err)
		assert.Equal(t, devAddr, signer.Address())
		assert.Equal(t, devKey, signer.PrivateKeyHex())
	}

	_, err := FromPrivateKeyHex("not-a-key")
	require.Error(t, err)
}

func TestSignAndRecover(t *testing.T) {
	signer, _ := GenerateKey()
	hash := eth_crypto.Keccak256([]byte("Hello, TokenEx!"))

	sig, err := signer.Sign(hash)
	require.NoError(t, err)
	require.Len(t, sig, SignatureLength)
	assert.Contains(t, []byte{27, 28}, sig[64])

	recovered, err := RecoverAddress(hash, sig)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), recovered)

	// raw 0/1 recovery ids are accepted too
	raw := append([]byte(nil), sig...)
	raw[64] -= 27
	recovered, err = RecoverAddress(hash, raw)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), recovered)

	_, err = signer.Sign([]byte("short"))
	require.Error(t, err)
}

func TestSignatureCodec(t *testing.T) {
	signer, _ := GenerateKey()
	signature, _ := signer.Sign(eth_crypto.Keccak256([]byte("codec")))

	encoded := EncodeSignature(signature)
	assert.Equal(t, "0x", encoded[:2])

	decoded, err := DecodeSignature(encoded)
	require.NoError(t, err)
	assert.Equal(t, signature, decoded)

	decoded, err = DecodeSignature(encoded[2:])
	require.NoError(t, err)
	assert.Equal(t, signature, decoded)

	_, err = DecodeSignature("0x1234")
	require.ErrorIs(t, err, ErrBadSignature)
	_, err = DecodeSignature("zz")
	require.ErrorIs(t, err, ErrBadSignature)
}

func TestRecoverRejectsMalformed(t *testing.T) {
	hash := common.BytesToHash([]byte("test")).Bytes()

	_, err := RecoverAddress(hash, []byte{1, 2, 3})
	require.ErrorIs(t, err, ErrBadSignature)
	_, err = RecoverAddress([]byte("short"), make([]byte, 65))
	require.ErrorIs(t, err, ErrBadSignature)

	bad := make([]byte, 65)
	bad[64] = 5
	_, err = RecoverAddress(hash, bad)
	require.ErrorIs(t, err, ErrBadSignature)

	// zero r and s never recover
	bad[64] = 27
	_, err = RecoverAddress(hash, bad)
	require.ErrorIs(t, err, ErrBadSignature)
}

func depositMessage(from common.Address, amount string) *TypedMessage {
	return &TypedMessage{
		PrimaryType: "Deposit",
		Fields: []apitypes.Type{
			{Name: "token", Type: "address"},
			{Name: "amount", Type: "uint256"},
			{Name: "from", Type: "address"},
			{Name: "nonce", Type: "uint256"},
		},
		Message: apitypes.TypedDataMessage{
			"token":  "0x5FbDB2315678afecb367f032d93F642f64180aa3",
			"amount": amount,
			"from":   from.Hex(),
			"nonce":  "1",
		},
	}
}

func TestEIP712SignAndRecover(t *testing.T) {
	signer, err := FromPrivateKeyHex(devKey)
	require.NoError(t, err)
	e := NewEIP712Signer(DefaultDomain(31337, common.HexToAddress("0xCf7Ed3AccA5a467e9e704C703E8D87F634fB0Fc9")))

	m := depositMessage(signer.Address(), "1000")
	sig, err := e.Sign(signer, m)
	require.NoError(t, err)

	recovered, err := e.Recover(m, sig)
	require.NoError(t, err)
	assert.Equal(t, devAddr, recovered)

	// any change to the message changes the signer
	tampered := depositMessage(signer.Address(), "1001")
	other, err := e.Recover(tampered, sig)
	require.NoError(t, err)
	assert.NotEqual(t, devAddr, other)
}

func TestEIP712DomainSeparatesChains(t *testing.T) {
	exchange := common.HexToAddress("0xCf7Ed3AccA5a467e9e704C703E8D87F634fB0Fc9")
	m := depositMessage(devAddr, "1")

	h1, err := NewEIP712Signer(DefaultDomain(1, exchange)).Hash(m)
	require.NoError(t, err)
	h2, err := NewEIP712Signer(DefaultDomain(31337, exchange)).Hash(m)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
	assert.Len(t, h1, 32)
}

func TestEIP712ToJSON(t *testing.T) {
	e := NewEIP712Signer(DefaultDomain(31337, common.Address{}))
	out, err := e.ToJSON(depositMessage(devAddr, "5"))
	require.NoError(t, err)
	assert.Contains(t, out, `"primaryType": "Deposit"`)
	assert.Contains(t, out, `"EIP712Domain"`)
}
