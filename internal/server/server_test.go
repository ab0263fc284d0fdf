package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polkawar/internal/crypto"
	"github.com/alanyoungcy/polkawar/internal/domain"
	"github.com/alanyoungcy/polkawar/internal/escrow"
	"github.com/alanyoungcy/polkawar/internal/ledger"
	"github.com/alanyoungcy/polkawar/internal/metrics"
	"github.com/alanyoungcy/polkawar/internal/server/handler"
	"github.com/alanyoungcy/polkawar/internal/service"
)

// Well-known development keys.
const (
	adminKey   = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	player1Key = "0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
	player2Key = "0x5de4111afa1a4b94908f83103eb1f1706367c2e68ca870fc3fb9a804cdab365a"
)

var vault = common.HexToAddress("0x00000000000000000000000000000000000000e1")

type fixture struct {
	t       *testing.T
	srv     *httptest.Server
	svc     *service.WagerService
	admin   *crypto.Signer
	player1 *crypto.Signer
	player2 *crypto.Signer
	// signedAt is the last signing time; each signed call moves it forward
	// so repeated calls are distinct requests.
	signedAt time.Time
}

func signer(t *testing.T, key string) *crypto.Signer {
	t.Helper()
	s, err := crypto.NewSigner(key)
	require.NoError(t, err)
	return s
}

func newFixture(t *testing.T, limiter domain.RateLimiter) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		t:       t,
		admin:   signer(t, adminKey),
		player1: signer(t, player1Key),
		player2: signer(t, player2Key),
	}

	l := ledger.NewMemory(f.admin.Address(), uint256.NewInt(100000))
	reg, err := escrow.New(escrow.Config{
		Administrator:    f.admin.Address(),
		EscrowAccount:    vault,
		RewardMultiplier: escrow.DefaultRewardMultiplier,
		Ledger:           l,
	}, logger)
	require.NoError(t, err)
	promReg := prometheus.NewRegistry()
	f.svc = service.NewWagerService(reg, l, nil, nil, nil, nil, logger).
		WithMetrics(metrics.New(promReg))

	for _, p := range []*crypto.Signer{f.player1, f.player2} {
		require.NoError(t, f.svc.Transfer(ctx, f.admin.Address(), p.Address(), uint256.NewInt(500)))
		require.NoError(t, f.svc.Approve(ctx, p.Address(), vault, uint256.NewInt(1000)))
	}

	s := NewServer(Config{
		SignatureMaxSkew: time.Minute,
		RateLimit:        100,
		RateWindow:       time.Minute,
	}, Handlers{
		Health:      handler.NewHealthHandler(nil, logger),
		Pools:       handler.NewPoolHandler(f.svc, logger),
		Settlements: handler.NewSettlementHandler(f.svc, logger),
		Ledger:      handler.NewLedgerHandler(f.svc, logger),
		Archive:     handler.NewArchiveHandler(f.svc, nil, nil, logger),
		Metrics:     promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}),
	}, nil, limiter, logger)
	f.srv = httptest.NewServer(s.Handler())
	t.Cleanup(f.srv.Close)
	return f
}

// call sends a request, signed by as unless it is nil, and decodes the JSON
// response into out when out is non-nil.
func (f *fixture) call(as *crypto.Signer, method, path string, body any, out any) int {
	f.t.Helper()
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		require.NoError(f.t, err)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, bytes.NewReader(raw))
	require.NoError(f.t, err)
	if as != nil {
		at := time.Now().Truncate(time.Second)
		if !at.After(f.signedAt) {
			at = f.signedAt.Add(time.Second)
		}
		f.signedAt = at
		headers, err := as.SignRequest(method, path, raw, at)
		require.NoError(f.t, err)
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(f.t, err)
	defer resp.Body.Close()
	assert.Equal(f.t, "application/json; charset=utf-8", resp.Header.Get("Content-Type"))
	if out != nil {
		require.NoError(f.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (f *fixture) balance(a common.Address) string {
	var out map[string]string
	require.Equal(f.t, http.StatusOK, f.call(nil, http.MethodGet, "/api/ledger/balances/"+a.Hex(), nil, &out))
	return out["balance"]
}

func TestAPI_WinRound(t *testing.T) {
	f := newFixture(t, nil)

	var pool domain.PoolJSON
	require.Equal(t, http.StatusCreated, f.call(f.admin, http.MethodPost, "/api/pools", map[string]string{"stake": "50"}, &pool))
	assert.Equal(t, uint64(0), pool.ID)
	assert.Equal(t, "50", pool.Stake)

	require.Equal(t, http.StatusOK, f.call(f.player1, http.MethodPost, "/api/pools/0/join", nil, &pool))
	require.Equal(t, http.StatusOK, f.call(f.player2, http.MethodPost, "/api/pools/0/join", nil, &pool))
	assert.Equal(t, "full", pool.StateName)

	var parts struct {
		Participants []string `json:"participants"`
	}
	require.Equal(t, http.StatusOK, f.call(nil, http.MethodGet, "/api/pools/0/participants", nil, &parts))
	assert.Equal(t, []string{f.player1.Address().Hex(), f.player2.Address().Hex()}, parts.Participants)

	outcome := map[string]any{"winner": f.player1.Address().Hex(), "is_draw": false}
	require.Equal(t, http.StatusOK, f.call(f.admin, http.MethodPost, "/api/pools/0/outcome", outcome, &pool))
	assert.True(t, pool.HasOutcome)

	var st domain.SettlementJSON
	require.Equal(t, http.StatusOK, f.call(f.player1, http.MethodPost, "/api/pools/0/claim", nil, &st))
	assert.Equal(t, "90", st.WinnerPayout)
	assert.Equal(t, "10", st.Fee)

	assert.Equal(t, "540", f.balance(f.player1.Address()))
	assert.Equal(t, "450", f.balance(f.player2.Address()))
	assert.Equal(t, "99010", f.balance(f.admin.Address()))

	require.Equal(t, http.StatusOK, f.call(nil, http.MethodGet, "/api/pools/0", nil, &pool))
	assert.Equal(t, "empty", pool.StateName)
	assert.Equal(t, uint64(1), pool.Round)

	var info service.RegistryInfo
	require.Equal(t, http.StatusOK, f.call(nil, http.MethodGet, "/api/registry", nil, &info))
	assert.Equal(t, f.admin.Address(), info.Administrator)
	assert.Equal(t, uint64(1), info.PoolCount)
	assert.Equal(t, uint64(90), info.RewardMultiplier)
}

func TestAPI_DrawRound(t *testing.T) {
	f := newFixture(t, nil)
	require.Equal(t, http.StatusCreated, f.call(f.admin, http.MethodPost, "/api/pools", map[string]string{"stake": "50"}, nil))
	require.Equal(t, http.StatusOK, f.call(f.player1, http.MethodPost, "/api/pools/0/join", nil, nil))
	require.Equal(t, http.StatusOK, f.call(f.player2, http.MethodPost, "/api/pools/0/join", nil, nil))
	require.Equal(t, http.StatusOK, f.call(f.admin, http.MethodPost, "/api/pools/0/outcome", map[string]any{"is_draw": true}, nil))

	var st domain.SettlementJSON
	require.Equal(t, http.StatusOK, f.call(f.admin, http.MethodPost, "/api/pools/0/draw", nil, &st))
	assert.Equal(t, domain.SettlementDraw, st.Kind)
	assert.Equal(t, "495", f.balance(f.player1.Address()))
	assert.Equal(t, "495", f.balance(f.player2.Address()))
}

func TestAPI_ErrorStatuses(t *testing.T) {
	f := newFixture(t, nil)
	require.Equal(t, http.StatusCreated, f.call(f.admin, http.MethodPost, "/api/pools", map[string]string{"stake": "50"}, nil))

	var body map[string]string
	tests := []struct {
		name   string
		as     *crypto.Signer
		method string
		path   string
		body   any
		status int
	}{
		{"unsigned create", nil, http.MethodPost, "/api/pools", map[string]string{"stake": "50"}, http.StatusUnauthorized},
		{"player creates", f.player1, http.MethodPost, "/api/pools", map[string]string{"stake": "50"}, http.StatusForbidden},
		{"zero stake", f.admin, http.MethodPost, "/api/pools", map[string]string{"stake": "0"}, http.StatusBadRequest},
		{"malformed stake", f.admin, http.MethodPost, "/api/pools", map[string]string{"stake": "abc"}, http.StatusBadRequest},
		{"unknown pool", nil, http.MethodGet, "/api/pools/7", nil, http.StatusNotFound},
		{"bad pool id", nil, http.MethodGet, "/api/pools/x", nil, http.StatusBadRequest},
		{"join unknown pool", f.player1, http.MethodPost, "/api/pools/9/join", nil, http.StatusNotFound},
		{"claim without outcome", f.player1, http.MethodPost, "/api/pools/0/claim", nil, http.StatusConflict},
		{"overdrawn transfer", f.player1, http.MethodPost, "/api/ledger/transfer", map[string]string{"to": vault.Hex(), "amount": "501"}, http.StatusPaymentRequired},
		{"archive disabled", f.admin, http.MethodPost, "/api/archive/trigger", nil, http.StatusServiceUnavailable},
		{"archive list disabled", nil, http.MethodGet, "/api/archive", nil, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body = nil
			assert.Equal(t, tt.status, f.call(tt.as, tt.method, tt.path, tt.body, &body))
			assert.NotEmpty(t, body["error"])
		})
	}

	require.Equal(t, http.StatusOK, f.call(f.player1, http.MethodPost, "/api/pools/0/join", nil, nil))
	assert.Equal(t, http.StatusConflict, f.call(f.player1, http.MethodPost, "/api/pools/0/join", nil, &body))
	require.Equal(t, http.StatusOK, f.call(f.player2, http.MethodPost, "/api/pools/0/join", nil, nil))
	assert.Equal(t, http.StatusConflict, f.call(f.admin, http.MethodPut, "/api/pools/0/stake", map[string]string{"stake": "10"}, &body))
}

func TestAPI_LedgerWrites(t *testing.T) {
	f := newFixture(t, nil)
	to := common.HexToAddress("0x00000000000000000000000000000000000000c1")

	require.Equal(t, http.StatusOK, f.call(f.player1, http.MethodPost, "/api/ledger/transfer", map[string]string{"to": to.Hex(), "amount": "25"}, nil))
	assert.Equal(t, "25", f.balance(to))
	assert.Equal(t, "475", f.balance(f.player1.Address()))

	require.Equal(t, http.StatusOK, f.call(f.player1, http.MethodPost, "/api/ledger/approve", map[string]string{"spender": to.Hex(), "amount": "7"}, nil))
	var out map[string]string
	require.Equal(t, http.StatusOK, f.call(nil, http.MethodGet, "/api/ledger/allowances/"+f.player1.Address().Hex()+"/"+to.Hex(), nil, &out))
	assert.Equal(t, "7", out["allowance"])

	require.Equal(t, http.StatusOK, f.call(nil, http.MethodGet, "/api/ledger/supply", nil, &out))
	assert.Equal(t, "100000", out["total_supply"])
}

func TestAPI_ReplayedTransferRejected(t *testing.T) {
	f := newFixture(t, nil)
	to := common.HexToAddress("0x00000000000000000000000000000000000000c2")
	raw := []byte(`{"to":"` + to.Hex() + `","amount":"25"}`)
	headers, err := f.player1.SignRequest(http.MethodPost, "/api/ledger/transfer", raw, time.Now())
	require.NoError(t, err)

	send := func() int {
		req, err := http.NewRequest(http.MethodPost, f.srv.URL+"/api/ledger/transfer", bytes.NewReader(raw))
		require.NoError(t, err)
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}
	require.Equal(t, http.StatusOK, send())
	assert.Equal(t, http.StatusUnauthorized, send())
	assert.Equal(t, http.StatusUnauthorized, send())

	assert.Equal(t, "25", f.balance(to))
	assert.Equal(t, "475", f.balance(f.player1.Address()))
}

type denyAll struct{}

func (denyAll) Allow(context.Context, string, int, time.Duration) (bool, error) { return false, nil }

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return false, errors.New("unavailable")
}

func TestAPI_RateLimit(t *testing.T) {
	f := newFixture(t, denyAll{})
	assert.Equal(t, http.StatusTooManyRequests, f.call(nil, http.MethodGet, "/api/pools", nil, nil))

	f = newFixture(t, brokenLimiter{})
	var list struct {
		Count int `json:"count"`
	}
	assert.Equal(t, http.StatusOK, f.call(nil, http.MethodGet, "/api/pools", nil, &list))
	assert.Zero(t, list.Count)
}

func TestAPI_Health(t *testing.T) {
	f := newFixture(t, nil)
	var out map[string]any
	assert.Equal(t, http.StatusOK, f.call(nil, http.MethodGet, "/api/health", nil, &out))
	assert.Equal(t, "ok", out["status"])
}

func TestAPI_Metrics(t *testing.T) {
	f := newFixture(t, nil)
	require.Equal(t, http.StatusCreated, f.call(f.admin, http.MethodPost, "/api/pools", map[string]string{"stake": "50"}, nil))

	resp, err := http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `polkawar_operations_total{operation="create_pool",result="ok"} 1`)
	assert.Contains(t, string(body), "polkawar_pools 1")
}
