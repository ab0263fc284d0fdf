package crypto

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polkawar/internal/domain"
)

// Well-known development key (hardhat account #0).
const (
	testKey     = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func TestNewSigner(t *testing.T) {
	s, err := NewSigner(testKey)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(testAddress), s.Address())

	_, err = NewSigner("0xnothex")
	assert.Error(t, err)
}

func TestSignAndRecover(t *testing.T) {
	s, err := NewSigner(testKey)
	require.NoError(t, err)

	sig, err := s.SignMessage([]byte("hello"))
	require.NoError(t, err)
	assert.Len(t, sig, 2+65*2)

	addr, err := RecoverAddress([]byte("hello"), sig)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), addr)

	other, err := RecoverAddress([]byte("hellO"), sig)
	if err == nil {
		assert.NotEqual(t, s.Address(), other)
	}

	_, err = RecoverAddress([]byte("hello"), "0x1234")
	assert.ErrorIs(t, err, domain.ErrBadSignature)
	_, err = RecoverAddress([]byte("hello"), "zz")
	assert.ErrorIs(t, err, domain.ErrBadSignature)
}

func TestRequestMessage(t *testing.T) {
	msg := RequestMessage("1700000000", "post", "/api/pools/0/join", []byte(`{}`))
	assert.Equal(t, "1700000000POST/api/pools/0/join{}", string(msg))
}

func TestVerifyRequest(t *testing.T) {
	s, err := NewSigner(testKey)
	require.NoError(t, err)
	now := time.Unix(1_700_000_000, 0)
	body := []byte(`{"stake":"50"}`)

	h, err := s.SignRequest("POST", "/api/pools", body, now)
	require.NoError(t, err)
	assert.Equal(t, s.Address().Hex(), h[HeaderAddress])

	verify := func(claimed common.Address, path string, at time.Time) error {
		return VerifyRequest(claimed, h[HeaderTimestamp], "POST", path, body, h[HeaderSignature], at, 30*time.Second)
	}

	assert.NoError(t, verify(s.Address(), "/api/pools", now))
	assert.NoError(t, verify(s.Address(), "/api/pools", now.Add(29*time.Second)))
	assert.ErrorIs(t, verify(s.Address(), "/api/pools", now.Add(time.Minute)), domain.ErrBadSignature)
	assert.ErrorIs(t, verify(s.Address(), "/api/pools", now.Add(-time.Minute)), domain.ErrBadSignature)
	assert.ErrorIs(t, verify(s.Address(), "/api/pools/1/claim", now), domain.ErrBadSignature)
	assert.ErrorIs(t, verify(common.HexToAddress("0x01"), "/api/pools", now), domain.ErrBadSignature)

	err = VerifyRequest(s.Address(), "yesterday", "POST", "/api/pools", body, h[HeaderSignature], now, time.Minute)
	assert.ErrorIs(t, err, domain.ErrBadSignature)
}
