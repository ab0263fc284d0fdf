package middleware

import (
	"context"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polkawar/internal/cache/memory"
	"github.com/alanyoungcy/polkawar/internal/crypto"
	"github.com/alanyoungcy/polkawar/internal/domain"
)

const testKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var fixedNow = time.Unix(1_790_000_000, 0)

// echoCaller reports the authenticated caller and the body it received.
func echoCaller(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFrom(r.Context())
	if !ok {
		w.WriteHeader(http.StatusTeapot)
		return
	}
	body, _ := io.ReadAll(r.Body)
	w.Write([]byte(caller.Hex() + "|" + string(body)))
}

func signedRequest(t *testing.T, method, path, body string, at time.Time) *http.Request {
	t.Helper()
	s, err := crypto.NewSigner(testKey)
	require.NoError(t, err)
	headers, err := s.SignRequest(method, path, []byte(body), at)
	require.NoError(t, err)

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req
}

func signatureHandler() http.Handler {
	return Signature(SignatureConfig{
		MaxSkew: time.Minute,
		Now:     func() time.Time { return fixedNow },
	})(http.HandlerFunc(echoCaller))
}

func TestSignature_Valid(t *testing.T) {
	rec := httptest.NewRecorder()
	signatureHandler().ServeHTTP(rec, signedRequest(t, http.MethodPost, "/api/pools/0/join", `{"a":1}`, fixedNow))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266|{\"a\":1}", rec.Body.String())
}

func TestSignature_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		build  func(t *testing.T) *http.Request
		status int
	}{
		{
			name: "unsigned",
			build: func(*testing.T) *http.Request {
				return httptest.NewRequest(http.MethodPost, "/api/pools", nil)
			},
			status: http.StatusUnauthorized,
		},
		{
			name: "stale timestamp",
			build: func(t *testing.T) *http.Request {
				return signedRequest(t, http.MethodPost, "/api/pools", "", fixedNow.Add(-2*time.Minute))
			},
			status: http.StatusUnauthorized,
		},
		{
			name: "tampered body",
			build: func(t *testing.T) *http.Request {
				req := signedRequest(t, http.MethodPost, "/api/pools", `{"stake":"50"}`, fixedNow)
				req.Body = io.NopCloser(strings.NewReader(`{"stake":"5000"}`))
				return req
			},
			status: http.StatusUnauthorized,
		},
		{
			name: "different path",
			build: func(t *testing.T) *http.Request {
				req := signedRequest(t, http.MethodPost, "/api/pools/0/claim", "", fixedNow)
				req.URL.Path = "/api/pools/1/claim"
				return req
			},
			status: http.StatusUnauthorized,
		},
		{
			name: "claimed address is someone else",
			build: func(t *testing.T) *http.Request {
				req := signedRequest(t, http.MethodPost, "/api/pools", "", fixedNow)
				req.Header.Set(crypto.HeaderAddress, common.HexToAddress("0xb1").Hex())
				return req
			},
			status: http.StatusUnauthorized,
		},
		{
			name: "oversized body",
			build: func(t *testing.T) *http.Request {
				return signedRequest(t, http.MethodPost, "/api/pools", strings.Repeat("x", DefaultMaxBody+1), fixedNow)
			},
			status: http.StatusRequestEntityTooLarge,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			signatureHandler().ServeHTTP(rec, tt.build(t))
			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func replayHandler(guard domain.ReplayGuard) http.Handler {
	return Signature(SignatureConfig{
		MaxSkew: time.Minute,
		Now:     func() time.Time { return fixedNow },
		Replay:  guard,
	})(http.HandlerFunc(echoCaller))
}

func TestSignature_RejectsReplay(t *testing.T) {
	h := replayHandler(memory.NewReplayGuard())
	first := signedRequest(t, http.MethodPost, "/api/ledger/transfer", `{"to":"0xb1","amount":"10"}`, fixedNow)

	replay := httptest.NewRequest(first.Method, first.URL.Path, strings.NewReader(`{"to":"0xb1","amount":"10"}`))
	replay.Header = first.Header.Clone()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, first)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, replay)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), domain.ErrReplayed.Error())

	// The same signature bytes re-encoded with the other s are still the
	// same request.
	malleated := httptest.NewRequest(first.Method, first.URL.Path, strings.NewReader(`{"to":"0xb1","amount":"10"}`))
	malleated.Header = first.Header.Clone()
	malleated.Header.Set(crypto.HeaderSignature, flipS(t, first.Header.Get(crypto.HeaderSignature)))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, malleated)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// A fresh timestamp makes a new request.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(t, http.MethodPost, "/api/ledger/transfer", `{"to":"0xb1","amount":"10"}`, fixedNow.Add(time.Second)))
	assert.Equal(t, http.StatusOK, rec.Code)
}

// flipS returns the other valid encoding (n - s, opposite v) of sigHex.
func flipS(t *testing.T, sigHex string) string {
	t.Helper()
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	require.NoError(t, err)
	n := ethcrypto.S256().Params().N
	sv := new(big.Int).Sub(n, new(big.Int).SetBytes(sig[32:64]))
	sv.FillBytes(sig[32:64])
	if sig[64] == 27 {
		sig[64] = 28
	} else {
		sig[64] = 27
	}
	return "0x" + hex.EncodeToString(sig)
}

type brokenGuard struct{}

func (brokenGuard) FirstUse(context.Context, string, time.Duration) (bool, error) {
	return false, errors.New("redis down")
}

func TestSignature_ReplayGuardUnavailable(t *testing.T) {
	rec := httptest.NewRecorder()
	replayHandler(brokenGuard{}).ServeHTTP(rec, signedRequest(t, http.MethodPost, "/api/pools", "", fixedNow))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type stubLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (s *stubLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	s.keys = append(s.keys, key)
	return s.allow, s.err
}

func TestRateLimit(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

	denied := &stubLimiter{}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/pools", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	RateLimit(denied, 10, 30*time.Second)(ok).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))
	assert.Equal(t, []string{"api:203.0.113.9"}, denied.keys)

	broken := &stubLimiter{err: errors.New("redis down")}
	rec = httptest.NewRecorder()
	RateLimit(broken, 10, time.Second)(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://app.example"})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))

	req := httptest.NewRequest(http.MethodOptions, "/api/pools", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), crypto.HeaderSignature)

	req = httptest.NewRequest(http.MethodGet, "/api/pools", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestLogging_CapturesStatus(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	h := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/pools/1/join", nil))

	assert.Contains(t, buf.String(), "status=409")
	assert.Contains(t, buf.String(), "path=/api/pools/1/join")
}
