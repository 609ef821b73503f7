package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// HMACAuth holds the credentials for signed exchange requests.
type HMACAuth struct {
	Key    string // API key, sent as a header
	Secret string // API secret, HMAC key
}

// Configured reports whether both halves of the credential are present.
func (h *HMACAuth) Configured() bool {
	return h != nil && h.Key != "" && h.Secret != ""
}

// Sign returns the hex HMAC-SHA256 of payload.
func (h *HMACAuth) Sign(payload string) string {
	mac := hmac.New(sha256.New, []byte(h.Secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignQuery adds timestamp and recvWindow to params and returns the encoded
// query string with the signature appended as the final parameter.
func (h *HMACAuth) SignQuery(params url.Values, recvWindow time.Duration) string {
	return h.SignQueryAt(params, recvWindow, time.Now().UnixMilli())
}

// SignQueryAt is like SignQuery with a caller-supplied millisecond timestamp.
func (h *HMACAuth) SignQueryAt(params url.Values, recvWindow time.Duration, unixMilli int64) string {
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(unixMilli, 10))
	if recvWindow > 0 {
		params.Set("recvWindow", strconv.FormatInt(recvWindow.Milliseconds(), 10))
	}
	q := params.Encode()
	return q + "&signature=" + h.Sign(q)
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}
