package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/outreach-engine/pkg/logger"
)

func signToken(t *testing.T, secret, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}})
	s, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestAuth(t *testing.T) {
	var owner string
	h := Auth("secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner = GetOwnerID(r.Context())
	}))

	tests := []struct {
		name   string
		header string
		status int
		owner  string
	}{
		{"valid", "Bearer " + signToken(t, "secret", "o1"), http.StatusOK, "o1"},
		{"missing", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, ""},
		{"wrong secret", "Bearer " + signToken(t, "other", "o1"), http.StatusUnauthorized, ""},
		{"no subject", "Bearer " + signToken(t, "secret", ""), http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			owner = ""
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.owner, owner)
		})
	}
}

func TestVerifySignature(t *testing.T) {
	r := chi.NewRouter()
	r.With(VerifySignature(map[string]string{"email": "whsec"})).
		Post("/webhooks/{channel}/inbound", func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			w.Write(body)
		})

	body := `{"sender_handle":"ada@example.com","content":"hi"}`
	send := func(channel, sig string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/"+channel+"/inbound", strings.NewReader(body))
		req.Header.Set(SignatureHeader, sig)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	rec := send("email", Sign("whsec", []byte(body)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, body, rec.Body.String(), "the body is handed on intact")

	assert.Equal(t, http.StatusOK, send("email", "sha256="+Sign("whsec", []byte(body))).Code)
	assert.Equal(t, http.StatusUnauthorized, send("email", Sign("other", []byte(body))).Code)
	assert.Equal(t, http.StatusUnauthorized, send("email", "not-hex").Code)
	assert.Equal(t, http.StatusUnauthorized, send("sms", Sign("whsec", []byte(body))).Code)
}

func TestLoggingCarriesCorrelationID(t *testing.T) {
	var seen string
	h := Logging(logger.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetCorrelationID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Correlation-ID", "corr-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "corr-1", seen)
	assert.Equal(t, "corr-1", rec.Header().Get("X-Correlation-ID"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))
}

func TestValidateID(t *testing.T) {
	assert.NoError(t, ValidateID("campaign", "0190f1d2-7c4e-7a31-9d2b-3f5c8e1a2b4c"))
	assert.EqualError(t, ValidateID("campaign", "nope"), "invalid campaign ID format")
}
