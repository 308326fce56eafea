package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// SignatureHeader carries the hex HMAC-SHA256 of a webhook body.
const SignatureHeader = "X-Signature"

const maxWebhookBody = 1 << 20

// VerifySignature rejects webhook calls whose body is not signed with the
// channel's secret. The channel is the {channel} route parameter. Channels
// without a configured secret reject every call.
func VerifySignature(secrets map[string]string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			secret := secrets[strings.ToLower(chi.URLParam(r, "channel"))]
			if secret == "" {
				unauthorized(w, "webhook not configured for channel")
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
			if err != nil || len(body) > maxWebhookBody {
				w.WriteHeader(http.StatusRequestEntityTooLarge)
				return
			}
			r.Body.Close()

			if !ValidSignature(secret, body, r.Header.Get(SignatureHeader)) {
				unauthorized(w, "invalid signature")
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}

// Sign returns the signature of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// ValidSignature reports whether header is body's signature under secret.
// A "sha256=" prefix is accepted.
func ValidSignature(secret string, body []byte, header string) bool {
	got, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(header), "sha256="))
	if err != nil || len(got) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
