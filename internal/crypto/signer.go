package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const (
	exchangeDomainName = "Polymarket CTF Exchange"
	authDomainName     = "ClobAuthDomain"
	authMessage        = "This message attests that I control the given wallet"

	zeroAddress = "0x0000000000000000000000000000000000000000"
)

// Order side and signature type values used in the signed struct.
const (
	SideBuy  = 0
	SideSell = 1

	SigTypeEOA       = 0
	SigTypePolyProxy = 1
	SigTypeSafe      = 2
)

var eip712DomainFields = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
}

var orderFields = []apitypes.Type{
	{Name: "salt", Type: "uint256"},
	{Name: "maker", Type: "address"},
	{Name: "signer", Type: "address"},
	{Name: "taker", Type: "address"},
	{Name: "tokenId", Type: "uint256"},
	{Name: "makerAmount", Type: "uint256"},
	{Name: "takerAmount", Type: "uint256"},
	{Name: "expiration", Type: "uint256"},
	{Name: "nonce", Type: "uint256"},
	{Name: "feeRateBps", Type: "uint256"},
	{Name: "side", Type: "uint8"},
	{Name: "signatureType", Type: "uint8"},
}

var clobAuthFields = []apitypes.Type{
	{Name: "address", Type: "address"},
	{Name: "timestamp", Type: "string"},
	{Name: "nonce", Type: "uint256"},
	{Name: "message", Type: "string"},
}

// OrderPayload is the CLOB order struct. Numeric fields are decimal strings so
// they survive JSON unchanged.
type OrderPayload struct {
	Salt          string `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          int    `json:"side"`
	SignatureType int    `json:"signatureType"`
}

// Signer signs CLOB orders and L1 auth messages with the wallet key.
type Signer struct {
	key      *ecdsa.PrivateKey
	address  common.Address
	chainID  int64
	exchange common.Address
}

// NewSigner binds key to a chain and exchange contract.
func NewSigner(key *ecdsa.PrivateKey, chainID int64, exchange string) (*Signer, error) {
	if key == nil {
		return nil, fmt.Errorf("crypto/signer: nil key")
	}
	if !common.IsHexAddress(exchange) {
		return nil, fmt.Errorf("crypto/signer: invalid exchange address %q", exchange)
	}
	return &Signer{
		key:      key,
		address:  ethcrypto.PubkeyToAddress(key.PublicKey),
		chainID:  chainID,
		exchange: common.HexToAddress(exchange),
	}, nil
}

// Address is the signing EOA.
func (s *Signer) Address() common.Address { return s.address }

// SignOrder returns the 0x-prefixed 65-byte signature over o.
func (s *Signer) SignOrder(o OrderPayload) (string, error) {
	td := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": append(append([]apitypes.Type{}, eip712DomainFields...),
				apitypes.Type{Name: "verifyingContract", Type: "address"}),
			"Order": orderFields,
		},
		PrimaryType: "Order",
		Domain: apitypes.TypedDataDomain{
			Name:              exchangeDomainName,
			Version:           "1",
			ChainId:           (*math.HexOrDecimal256)(big.NewInt(s.chainID)),
			VerifyingContract: s.exchange.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"salt":          o.Salt,
			"maker":         o.Maker,
			"signer":        o.Signer,
			"taker":         o.Taker,
			"tokenId":       o.TokenID,
			"makerAmount":   o.MakerAmount,
			"takerAmount":   o.TakerAmount,
			"expiration":    o.Expiration,
			"nonce":         o.Nonce,
			"feeRateBps":    o.FeeRateBps,
			"side":          strconv.Itoa(o.Side),
			"signatureType": strconv.Itoa(o.SignatureType),
		},
	}
	return s.signTyped(td)
}

// SignAuth signs the ClobAuth message used by the L1 endpoints.
func (s *Signer) SignAuth(timestamp, nonce int64) (string, error) {
	td := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": eip712DomainFields,
			"ClobAuth":     clobAuthFields,
		},
		PrimaryType: "ClobAuth",
		Domain: apitypes.TypedDataDomain{
			Name:    authDomainName,
			Version: "1",
			ChainId: (*math.HexOrDecimal256)(big.NewInt(s.chainID)),
		},
		Message: apitypes.TypedDataMessage{
			"address":   s.address.Hex(),
			"timestamp": strconv.FormatInt(timestamp, 10),
			"nonce":     strconv.FormatInt(nonce, 10),
			"message":   authMessage,
		},
	}
	return s.signTyped(td)
}

func (s *Signer) signTyped(td apitypes.TypedData) (string, error) {
	digest, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: hash typed data: %w", err)
	}
	sig, err := ethcrypto.Sign(digest, s.key)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: sign: %w", err)
	}
	// go-ethereum returns v in {0,1}; the exchange expects {27,28}.
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// ZeroAddress is the public-order taker.
func ZeroAddress() string { return zeroAddress }
