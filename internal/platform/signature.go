package platform

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// Signature verification runs over the unparsed request bytes. Re-serializing
// a parsed body breaks the HMAC, so handlers must pass the raw body through.

// VerifyMetaSignature checks a Meta-family "X-Hub-Signature-256" header of the
// form "sha256=<hex>" against HMAC-SHA256(secret, body).
func VerifyMetaSignature(secret string, body []byte, header string) error {
	if secret == "" {
		return fmt.Errorf("no app secret configured")
	}
	if header == "" {
		return fmt.Errorf("missing signature header")
	}
	provided, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return fmt.Errorf("malformed signature header")
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	// hmac.Equal is constant time.
	if !hmac.Equal([]byte(provided), []byte(expected)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

// VerifyLineSignature checks a LINE "X-Line-Signature" header carrying
// base64(HMAC-SHA256(channel secret, body)).
func VerifyLineSignature(secret string, body []byte, header string) error {
	if secret == "" {
		return fmt.Errorf("no channel secret configured")
	}
	if header == "" {
		return fmt.Errorf("missing signature header")
	}
	provided, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return fmt.Errorf("malformed signature header")
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(provided, mac.Sum(nil)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}
