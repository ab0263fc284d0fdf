package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/polkawar/internal/crypto"
	"github.com/alanyoungcy/polkawar/internal/domain"
)

// DefaultMaxBody caps the request body read for signature verification.
const DefaultMaxBody = 64 << 10

type callerKey struct{}

// WithCaller returns ctx carrying the authenticated caller address.
func WithCaller(ctx context.Context, caller common.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFrom returns the caller authenticated by Signature, if any.
func CallerFrom(ctx context.Context) (common.Address, bool) {
	a, ok := ctx.Value(callerKey{}).(common.Address)
	return a, ok
}

// SignatureConfig controls request signature verification.
type SignatureConfig struct {
	// MaxSkew is how far the signed timestamp may be from Now.
	MaxSkew time.Duration
	// MaxBody limits the body size in bytes; DefaultMaxBody when zero.
	MaxBody int64
	// Now defaults to time.Now.
	Now func() time.Time
	// Replay, when set, rejects a signed request seen before within the
	// timestamp window.
	Replay domain.ReplayGuard
}

// Signature returns middleware that authenticates the caller from the
// X-Wager-* headers. The signature must cover the timestamp, method, path
// and body of the request. The body is buffered and handed on unchanged.
// With a replay guard each signed request is accepted once; a client
// repeating an identical request must sign it with a new timestamp.
func Signature(cfg SignatureConfig) func(http.Handler) http.Handler {
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = DefaultMaxBody
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			addr := strings.TrimSpace(r.Header.Get(crypto.HeaderAddress))
			ts := strings.TrimSpace(r.Header.Get(crypto.HeaderTimestamp))
			sig := strings.TrimSpace(r.Header.Get(crypto.HeaderSignature))
			if addr == "" || ts == "" || sig == "" {
				writeJSONError(w, http.StatusUnauthorized, "missing request signature")
				return
			}
			if !common.IsHexAddress(addr) {
				writeJSONError(w, http.StatusUnauthorized, "malformed caller address")
				return
			}

			var body []byte
			if r.Body != nil {
				var err error
				body, err = io.ReadAll(io.LimitReader(r.Body, cfg.MaxBody+1))
				if err != nil {
					writeJSONError(w, http.StatusBadRequest, "reading request body failed")
					return
				}
				if int64(len(body)) > cfg.MaxBody {
					writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
					return
				}
				r.Body = io.NopCloser(bytes.NewReader(body))
			}

			caller := common.HexToAddress(addr)
			err := crypto.VerifyRequest(caller, ts, r.Method, r.URL.Path, body, sig, cfg.Now(), cfg.MaxSkew)
			if err != nil {
				status := http.StatusUnauthorized
				if !errors.Is(err, domain.ErrBadSignature) {
					status = http.StatusInternalServerError
				}
				writeJSONError(w, status, err.Error())
				return
			}

			if cfg.Replay != nil {
				digest := crypto.RequestDigest(caller, ts, r.Method, r.URL.Path, body)
				// A timestamp stays acceptable for MaxSkew either side of now.
				ttl := 2*cfg.MaxSkew + time.Second
				first, err := cfg.Replay.FirstUse(r.Context(), digest.Hex(), ttl)
				if err != nil {
					writeJSONError(w, http.StatusServiceUnavailable, "replay check unavailable")
					return
				}
				if !first {
					writeJSONError(w, http.StatusUnauthorized, domain.ErrReplayed.Error())
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	data, _ := json.Marshal(map[string]string{"error": msg})
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}
