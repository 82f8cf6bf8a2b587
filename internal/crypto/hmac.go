package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// APICreds are the L2 credentials issued by /auth/derive-api-key.
type APICreds struct {
	Key        string
	Secret     string // url-safe base64
	Passphrase string
}

// Valid reports whether all three fields are set.
func (c APICreds) Valid() bool {
	return c.Key != "" && c.Secret != "" && c.Passphrase != ""
}

// L2Headers returns the authentication headers for a CLOB request signed now.
func (c APICreds) L2Headers(address, method, path, body string) map[string]string {
	return c.L2HeadersAt(address, method, path, body, time.Now().Unix())
}

// L2HeadersAt signs timestamp+method+path+body with HMAC-SHA256 keyed by the
// decoded secret.
func (c APICreds) L2HeadersAt(address, method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	// The CLOB signs JSON bodies with single quotes normalised to double.
	msg := ts + method + path + strings.ReplaceAll(body, "'", `"`)

	return map[string]string{
		"POLY_ADDRESS":    address,
		"POLY_API_KEY":    c.Key,
		"POLY_TIMESTAMP":  ts,
		"POLY_PASSPHRASE": c.Passphrase,
		"POLY_SIGNATURE":  sign(decodeSecret(c.Secret), msg),
	}
}

// String keeps secrets out of logs.
func (c APICreds) String() string {
	mask := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("APICreds{key=%s, secret=%s}", mask(c.Key), mask(c.Secret))
}

func decodeSecret(secret string) []byte {
	for _, enc := range []*base64.Encoding{base64.URLEncoding, base64.StdEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(secret); err == nil {
			return b
		}
	}
	return []byte(secret)
}

func sign(key []byte, msg string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(msg))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil))
}
