package crypto

import (
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func testKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	k, err := ethcrypto.HexToECDSA(testKeyHex)
	require.NoError(t, err)
	return k
}

func TestSealOpenRoundTrip(t *testing.T) {
	sealed, err := SealKey("0x"+testKeyHex, "hunter2")
	require.NoError(t, err)

	k, err := OpenKey(sealed, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, hex.EncodeToString(ethcrypto.FromECDSA(k)))

	_, err = OpenKey(sealed, "wrong")
	assert.ErrorContains(t, err, "decryption failed")
}

func TestLoadKeySources(t *testing.T) {
	k, err := LoadKey(KeySource{RawPrivateKey: testKeyHex})
	require.NoError(t, err)
	assert.Equal(t, testKey(t).D, k.D)

	sealed, err := SealKey(testKeyHex, "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(path, sealed, 0o600))

	k, err = LoadKey(KeySource{EncryptedKeyPath: path, Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, testKey(t).D, k.D)

	_, err = LoadKey(KeySource{})
	assert.Error(t, err)

	_, err = LoadKey(KeySource{RawPrivateKey: "abcd"})
	assert.ErrorContains(t, err, "expected 32-byte key")
}

func TestSignOrderRecoversSigner(t *testing.T) {
	s, err := NewSigner(testKey(t), 137, "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E")
	require.NoError(t, err)

	sig, err := s.SignOrder(OrderPayload{
		Salt:          "12345",
		Maker:         s.Address().Hex(),
		Signer:        s.Address().Hex(),
		Taker:         ZeroAddress(),
		TokenID:       "71321045679252212594626385532706912750332728571942532289631379312455583992563",
		MakerAmount:   "10000000",
		TakerAmount:   "100000000",
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          SideBuy,
		SignatureType: SigTypeEOA,
	})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(sig, "0x"))

	raw, err := hex.DecodeString(sig[2:])
	require.NoError(t, err)
	require.Len(t, raw, 65)
	assert.Contains(t, []byte{27, 28}, raw[64])
}

func TestSignAuthDeterministic(t *testing.T) {
	s, err := NewSigner(testKey(t), 137, "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E")
	require.NoError(t, err)

	a, err := s.SignAuth(1700000000, 0)
	require.NoError(t, err)
	b, err := s.SignAuth(1700000000, 0)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := s.SignAuth(1700000001, 0)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestNewSignerRejectsBadExchange(t *testing.T) {
	_, err := NewSigner(testKey(t), 137, "not-an-address")
	assert.Error(t, err)
}

func TestL2HeadersAt(t *testing.T) {
	creds := APICreds{
		Key:        "key-1",
		Secret:     base64.URLEncoding.EncodeToString([]byte("super-secret")),
		Passphrase: "pass",
	}
	h1 := creds.L2HeadersAt("0xabc", "POST", "/order", `{"a":1}`, 1700000000)
	h2 := creds.L2HeadersAt("0xabc", "POST", "/order", `{"a":1}`, 1700000000)
	h3 := creds.L2HeadersAt("0xabc", "DELETE", "/order", `{"a":1}`, 1700000000)

	assert.Equal(t, "1700000000", h1["POLY_TIMESTAMP"])
	assert.Equal(t, "key-1", h1["POLY_API_KEY"])
	assert.Equal(t, h1["POLY_SIGNATURE"], h2["POLY_SIGNATURE"])
	assert.NotEqual(t, h1["POLY_SIGNATURE"], h3["POLY_SIGNATURE"])
	assert.True(t, creds.Valid())
	assert.NotContains(t, creds.String(), "super")
}
