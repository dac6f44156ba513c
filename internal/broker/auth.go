// auth.go implements HMAC request signing for the reference REST broker.
//
// Adapted from the L2 HMAC portion of
// 0xtitan6-polymarket-mm/internal/exchange/auth.go (buildHMAC / L2Headers):
// the EIP-712/L1 wallet-signing half is dropped entirely (see DESIGN.md —
// it exists only to authenticate against an on-chain counterparty the
// execution core has no notion of), leaving a generic
// "timestamp + method + path [+ body]" HMAC-SHA256 signer suitable for any
// REST broker that authenticates this way.
package broker

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// Auth signs REST requests for the reference broker client using HMAC-SHA256
// over "timestamp + method + path [+ body]".
type Auth struct {
	creds Credentials
}

// NewAuth builds an Auth from API credentials.
func NewAuth(creds Credentials) *Auth {
	return &Auth{creds: creds}
}

// HasCredentials reports whether API key and secret are both configured.
func (a *Auth) HasCredentials() bool {
	return a.creds.APIKey != "" && a.creds.Secret != ""
}

// Credentials returns the configured credentials.
func (a *Auth) Credentials() Credentials {
	return a.creds
}

// Headers returns the signed headers for a REST request.
func (a *Auth) Headers(method, path, body string) (map[string]string, error) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	sig, err := a.sign(timestamp, method, path, body)
	if err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}
	return map[string]string{
		"X-API-KEY":   a.creds.APIKey,
		"X-SIGNATURE": sig,
		"X-TIMESTAMP": timestamp,
	}, nil
}

func (a *Auth) sign(timestamp, method, path, body string) (string, error) {
	mac := hmac.New(sha256.New, []byte(a.creds.Secret))
	mac.Write([]byte(timestamp + method + path + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}
