package escrow_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polkawar/internal/domain"
	"github.com/alanyoungcy/polkawar/internal/escrow"
	"github.com/alanyoungcy/polkawar/internal/ledger"
)

var (
	admin    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	escrowAc = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	player1  = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	player2  = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	player3  = common.HexToAddress("0x00000000000000000000000000000000000000b3")
)

var fixedTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	ctx    context.Context
	ledger *ledger.Memory
	reg    *escrow.Registry
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newFixture mirrors the usual deployment: the administrator holds a
// genesis supply of 100000, each player is funded with 500 and has approved
// the escrow account, and pools 0 and 1 are created with stakes 50 and 100.
func newFixture(t *testing.T, opts ...ledger.Option) *fixture {
	t.Helper()
	ctx := context.Background()
	l := ledger.NewMemory(admin, uint256.NewInt(100000), opts...)

	n := 0
	reg, err := escrow.New(escrow.Config{
		Administrator:    admin,
		EscrowAccount:    escrowAc,
		RewardMultiplier: escrow.DefaultRewardMultiplier,
		Ledger:           l,
	}, quietLogger(),
		escrow.WithClock(func() time.Time { return fixedTime }),
		escrow.WithIDGenerator(func() string { n++; return fmt.Sprintf("stl-%d", n) }),
	)
	require.NoError(t, err)

	allowance, _ := uint256.FromDecimal("9999999999999999999999999")
	for _, p := range []common.Address{player1, player2} {
		require.NoError(t, l.Transfer(ctx, admin, p, uint256.NewInt(500)))
		require.NoError(t, l.Approve(ctx, p, escrowAc, allowance))
	}

	_, err = reg.CreatePool(ctx, admin, uint256.NewInt(50))
	require.NoError(t, err)
	_, err = reg.CreatePool(ctx, admin, uint256.NewInt(100))
	require.NoError(t, err)

	return &fixture{ctx: ctx, ledger: l, reg: reg}
}

func (f *fixture) balance(t *testing.T, addr common.Address) uint64 {
	t.Helper()
	b, err := f.ledger.BalanceOf(f.ctx, addr)
	require.NoError(t, err)
	return b.Uint64()
}

func (f *fixture) assertBalances(t *testing.T, p1, p2, adm uint64) {
	t.Helper()
	assert.Equal(t, p1, f.balance(t, player1), "player1")
	assert.Equal(t, p2, f.balance(t, player2), "player2")
	assert.Equal(t, adm, f.balance(t, admin), "admin")
}

func (f *fixture) fill(t *testing.T, id uint64) {
	t.Helper()
	_, err := f.reg.Join(f.ctx, id, player1)
	require.NoError(t, err)
	_, err = f.reg.Join(f.ctx, id, player2)
	require.NoError(t, err)
}

func (f *fixture) assertConsistent(t *testing.T) {
	t.Helper()
	for _, p := range f.reg.Pools() {
		assert.True(t, p.Consistent(), "pool %d inconsistent: %+v", p.ID, p)
	}
}

func TestNew_ValidatesConfig(t *testing.T) {
	l := ledger.NewMemory(admin, uint256.NewInt(1))
	base := escrow.Config{Administrator: admin, EscrowAccount: escrowAc, RewardMultiplier: 90, Ledger: l}

	tests := []struct {
		name   string
		mutate func(c *escrow.Config)
	}{
		{"missing ledger", func(c *escrow.Config) { c.Ledger = nil }},
		{"zero administrator", func(c *escrow.Config) { c.Administrator = common.Address{} }},
		{"zero escrow account", func(c *escrow.Config) { c.EscrowAccount = common.Address{} }},
		{"escrow is administrator", func(c *escrow.Config) { c.EscrowAccount = admin }},
		{"multiplier above 100", func(c *escrow.Config) { c.RewardMultiplier = 101 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			_, err := escrow.New(cfg, quietLogger())
			assert.Error(t, err)
		})
	}

	_, err := escrow.New(base, nil)
	assert.NoError(t, err)
}

func TestRegistry_Initialization(t *testing.T) {
	f := newFixture(t)

	supply, err := f.ledger.TotalSupply(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(100000), supply.Uint64())
	assert.Equal(t, uint64(90), f.reg.RewardMultiplier())
	assert.Equal(t, admin, f.reg.Administrator())
	assert.Equal(t, escrowAc, f.reg.EscrowAccount())
	assert.Equal(t, uint64(2), f.reg.PoolCount())

	p0, err := f.reg.GetPool(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), p0.StakeAmount.Uint64())
	assert.Equal(t, domain.PoolEmpty, p0.State)

	p1, err := f.reg.GetPool(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), p1.StakeAmount.Uint64())
}

func TestRegistry_CreatePool(t *testing.T) {
	f := newFixture(t)

	_, err := f.reg.CreatePool(f.ctx, player1, uint256.NewInt(10))
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = f.reg.CreatePool(f.ctx, admin, uint256.NewInt(0))
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	assert.Equal(t, uint64(2), f.reg.PoolCount())

	p, err := f.reg.CreatePool(f.ctx, admin, uint256.NewInt(10))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), p.ID)
	assert.Equal(t, uint64(3), f.reg.PoolCount())
}

func TestRegistry_SetStake(t *testing.T) {
	f := newFixture(t)

	p, err := f.reg.SetStake(f.ctx, admin, 0, uint256.NewInt(150))
	require.NoError(t, err)
	assert.Equal(t, uint64(150), p.StakeAmount.Uint64())

	got, err := f.reg.GetPool(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(150), got.StakeAmount.Uint64())

	other, err := f.reg.GetPool(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), other.StakeAmount.Uint64(), "only the addressed pool changes")

	_, err = f.reg.SetStake(f.ctx, player1, 0, uint256.NewInt(1))
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = f.reg.SetStake(f.ctx, admin, 9, uint256.NewInt(1))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.reg.Join(f.ctx, 0, player1)
	require.NoError(t, err)
	_, err = f.reg.SetStake(f.ctx, admin, 0, uint256.NewInt(1))
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestRegistry_JoinTransitions(t *testing.T) {
	f := newFixture(t)

	p, err := f.reg.Join(f.ctx, 0, player1)
	require.NoError(t, err)
	assert.Equal(t, domain.PoolOneJoined, p.State)

	parts, err := f.reg.GetParticipants(0)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{player1}, parts)

	p, err = f.reg.Join(f.ctx, 0, player2)
	require.NoError(t, err)
	assert.Equal(t, domain.PoolFull, p.State)

	parts, err = f.reg.GetParticipants(0)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{player1, player2}, parts)

	assert.Equal(t, uint64(100), f.balance(t, escrowAc))
	f.assertBalances(t, 450, 450, 99000)
	f.assertConsistent(t)
}

func TestRegistry_JoinRejections(t *testing.T) {
	f := newFixture(t)

	_, err := f.reg.Join(f.ctx, 0, common.Address{})
	assert.ErrorIs(t, err, domain.ErrInvalidParticipant)

	_, err = f.reg.Join(f.ctx, 7, player1)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.reg.Join(f.ctx, 0, player1)
	require.NoError(t, err)
	_, err = f.reg.Join(f.ctx, 0, player1)
	assert.ErrorIs(t, err, domain.ErrDuplicateParticipant)
	assert.Equal(t, uint64(450), f.balance(t, player1), "duplicate join must not pull a second stake")

	_, err = f.reg.Join(f.ctx, 0, player2)
	require.NoError(t, err)
	_, err = f.reg.Join(f.ctx, 0, player3)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	f.assertConsistent(t)
}

func TestRegistry_JoinLedgerFailureLeavesPoolUnchanged(t *testing.T) {
	f := newFixture(t)
	before, err := f.reg.GetPool(0)
	require.NoError(t, err)

	// player3 holds nothing and approved nothing.
	_, err = f.reg.Join(f.ctx, 0, player3)
	assert.ErrorIs(t, err, domain.ErrInsufficientAllowance)

	require.NoError(t, f.ledger.Approve(f.ctx, player3, escrowAc, uint256.NewInt(1000)))
	_, err = f.reg.Join(f.ctx, 0, player3)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	after, err := f.reg.GetPool(0)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRegistry_RecordOutcome(t *testing.T) {
	f := newFixture(t)

	_, err := f.reg.RecordOutcome(f.ctx, admin, 0, player1, false)
	assert.ErrorIs(t, err, domain.ErrInvalidState, "pool not full")

	f.fill(t, 0)

	_, err = f.reg.RecordOutcome(f.ctx, player1, 0, player1, false)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = f.reg.RecordOutcome(f.ctx, admin, 0, player3, false)
	assert.ErrorIs(t, err, domain.ErrInvalidParticipant)

	p, err := f.reg.RecordOutcome(f.ctx, admin, 0, player1, false)
	require.NoError(t, err)
	assert.Equal(t, player1, p.Winner)
	assert.False(t, p.IsDraw)
	assert.True(t, p.HasOutcome)

	// A second record before settlement replaces the first.
	p, err = f.reg.RecordOutcome(f.ctx, admin, 0, player3, true)
	require.NoError(t, err)
	assert.True(t, p.IsDraw)
	assert.Equal(t, player3, p.Winner)
	f.assertConsistent(t)
}

func TestRegistry_ClaimWin(t *testing.T) {
	f := newFixture(t)
	f.fill(t, 0)

	_, _, err := f.reg.Claim(f.ctx, 0, player1)
	assert.ErrorIs(t, err, domain.ErrInvalidState, "no outcome recorded")

	_, err = f.reg.RecordOutcome(f.ctx, admin, 0, player1, false)
	require.NoError(t, err)

	_, _, err = f.reg.Claim(f.ctx, 0, player2)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	st, p, err := f.reg.Claim(f.ctx, 0, player1)
	require.NoError(t, err)

	assert.Equal(t, "stl-1", st.ID)
	assert.Equal(t, domain.SettlementWin, st.Kind)
	assert.Equal(t, uint64(100), st.Pot.Uint64())
	assert.Equal(t, uint64(90), st.WinnerPayout.Uint64())
	assert.Equal(t, uint64(10), st.Fee.Uint64())
	assert.Equal(t, player1, st.Winner)
	assert.Equal(t, fixedTime, st.SettledAt)
	assert.Equal(t, uint64(0), st.Round)

	assert.Equal(t, domain.PoolEmpty, p.State)
	assert.Equal(t, common.Address{}, p.Winner)
	assert.Empty(t, p.Participants)
	assert.False(t, p.HasOutcome)
	assert.Equal(t, uint64(1), p.Round)

	f.assertBalances(t, 540, 450, 99010)
	assert.Equal(t, uint64(0), f.balance(t, escrowAc))

	_, _, err = f.reg.Claim(f.ctx, 0, player1)
	assert.ErrorIs(t, err, domain.ErrInvalidState, "second claim after reset")
	f.assertConsistent(t)
}

func TestRegistry_ClaimRejectsDraw(t *testing.T) {
	f := newFixture(t)
	f.fill(t, 0)
	_, err := f.reg.RecordOutcome(f.ctx, admin, 0, player1, true)
	require.NoError(t, err)

	_, _, err = f.reg.Claim(f.ctx, 0, player1)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestRegistry_SettleDraw(t *testing.T) {
	f := newFixture(t)
	f.fill(t, 0)

	_, _, err := f.reg.SettleDraw(f.ctx, admin, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidState, "no outcome recorded")

	_, err = f.reg.RecordOutcome(f.ctx, admin, 0, player1, false)
	require.NoError(t, err)
	_, _, err = f.reg.SettleDraw(f.ctx, admin, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidState, "outcome is a win")

	_, err = f.reg.RecordOutcome(f.ctx, admin, 0, player1, true)
	require.NoError(t, err)

	_, _, err = f.reg.SettleDraw(f.ctx, player1, 0)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	st, p, err := f.reg.SettleDraw(f.ctx, admin, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementDraw, st.Kind)
	assert.Equal(t, uint64(10), st.Fee.Uint64())
	assert.Equal(t, domain.PoolEmpty, p.State)
	assert.Equal(t, common.Address{}, p.Winner)

	f.assertBalances(t, 495, 495, 99010)
	f.assertConsistent(t)
}

func TestRegistry_OddDrawConservesValue(t *testing.T) {
	f := newFixture(t)
	p, err := f.reg.CreatePool(f.ctx, admin, uint256.NewInt(7))
	require.NoError(t, err)

	f.fill(t, p.ID)
	_, err = f.reg.RecordOutcome(f.ctx, admin, p.ID, common.Address{}, true)
	require.NoError(t, err)
	st, _, err := f.reg.SettleDraw(f.ctx, admin, p.ID)
	require.NoError(t, err)

	assert.Equal(t, uint64(2), st.Fee.Uint64())
	assert.Equal(t, uint64(12), st.WinnerPayout.Uint64())
	f.assertBalances(t, 499, 499, 99002)
	assert.Equal(t, uint64(0), f.balance(t, escrowAc))
}

func TestRegistry_RepeatRounds(t *testing.T) {
	f := newFixture(t)

	for round := 0; round < 2; round++ {
		f.fill(t, 0)
		_, err := f.reg.RecordOutcome(f.ctx, admin, 0, player1, true)
		require.NoError(t, err)
		_, _, err = f.reg.SettleDraw(f.ctx, admin, 0)
		require.NoError(t, err)
	}
	f.assertBalances(t, 490, 490, 99020)

	f.fill(t, 0)
	_, err := f.reg.RecordOutcome(f.ctx, admin, 0, player1, false)
	require.NoError(t, err)
	_, _, err = f.reg.Claim(f.ctx, 0, player1)
	require.NoError(t, err)
	f.assertBalances(t, 530, 440, 99030)

	f.fill(t, 0)
	_, err = f.reg.RecordOutcome(f.ctx, admin, 0, player1, false)
	require.NoError(t, err)
	st, p, err := f.reg.Claim(f.ctx, 0, player1)
	require.NoError(t, err)
	f.assertBalances(t, 570, 390, 99040)

	assert.Equal(t, uint64(3), st.Round)
	assert.Equal(t, uint64(4), p.Round)
	assert.Equal(t, uint64(0), f.balance(t, escrowAc))
	f.assertConsistent(t)
}

func TestRegistry_ReentrantSettleRejected(t *testing.T) {
	var (
		reg       *escrow.Registry
		inner     []error
		reentered bool
	)
	f := newFixture(t, ledger.WithTransferHook(func(ctx context.Context, from, to common.Address, _ uint256.Int) {
		if from != escrowAc || to != player1 || reentered {
			return
		}
		reentered = true
		_, _, err := reg.Claim(ctx, 0, player1)
		inner = append(inner, err)
		_, err = reg.Join(ctx, 0, player3)
		inner = append(inner, err)
		_, err = reg.SetStake(ctx, admin, 0, uint256.NewInt(1))
		inner = append(inner, err)
	}))
	reg = f.reg

	f.fill(t, 0)
	_, err := reg.RecordOutcome(f.ctx, admin, 0, player1, false)
	require.NoError(t, err)

	_, _, err = reg.Claim(f.ctx, 0, player1)
	require.NoError(t, err)

	require.True(t, reentered)
	require.Len(t, inner, 3)
	for _, e := range inner {
		assert.ErrorIs(t, e, domain.ErrInvalidState)
	}
	f.assertBalances(t, 540, 450, 99010)
}

func TestRegistry_ReadsDuringInteractionSeeCommittedState(t *testing.T) {
	var (
		reg      *escrow.Registry
		observed domain.Pool
	)
	f := newFixture(t, ledger.WithTransferHook(func(ctx context.Context, from, to common.Address, _ uint256.Int) {
		if to == escrowAc {
			observed, _ = reg.GetPool(0)
		}
	}))
	reg = f.reg

	_, err := reg.Join(f.ctx, 0, player1)
	require.NoError(t, err)
	assert.Equal(t, domain.PoolEmpty, observed.State)
}

type failingLedger struct {
	domain.TokenLedger
	err error
}

func (l failingLedger) Transfer(context.Context, common.Address, common.Address, *uint256.Int) error {
	return l.err
}

func TestRegistry_PayoutFailureKeepsOutcome(t *testing.T) {
	boom := errors.New("ledger offline")
	pools := []domain.Pool{{
		ID:           0,
		StakeAmount:  *uint256.NewInt(50),
		State:        domain.PoolFull,
		Participants: []common.Address{player1, player2},
		Winner:       player1,
		HasOutcome:   true,
		Version:      4,
	}}
	reg, err := escrow.Restore(escrow.Config{
		Administrator:    admin,
		EscrowAccount:    escrowAc,
		RewardMultiplier: 90,
		Ledger:           failingLedger{TokenLedger: ledger.NewMemory(admin, uint256.NewInt(1)), err: boom},
	}, pools, quietLogger())
	require.NoError(t, err)

	_, _, err = reg.Claim(context.Background(), 0, player1)
	assert.ErrorIs(t, err, boom)

	p, err := reg.GetPool(0)
	require.NoError(t, err)
	assert.Equal(t, pools[0], p)

	// The pool is no longer busy once the failed interaction returns.
	_, err = reg.RecordOutcome(context.Background(), admin, 0, player2, false)
	assert.NoError(t, err)
}

func TestRestore(t *testing.T) {
	l := ledger.NewMemory(admin, uint256.NewInt(1))
	cfg := escrow.Config{Administrator: admin, EscrowAccount: escrowAc, RewardMultiplier: 90, Ledger: l}

	good := []domain.Pool{
		{ID: 0, StakeAmount: *uint256.NewInt(50), Round: 3, Version: 12},
		{ID: 1, StakeAmount: *uint256.NewInt(100), State: domain.PoolOneJoined, Participants: []common.Address{player1}, Version: 2},
	}
	reg, err := escrow.Restore(cfg, good, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), reg.PoolCount())
	assert.Equal(t, good, reg.Pools())

	tests := []struct {
		name  string
		pools []domain.Pool
	}{
		{"gap in ids", []domain.Pool{{ID: 1, StakeAmount: *uint256.NewInt(1)}}},
		{"state disagrees with participants", []domain.Pool{{ID: 0, StakeAmount: *uint256.NewInt(1), State: domain.PoolFull}}},
		{"outcome outside full", []domain.Pool{{ID: 0, StakeAmount: *uint256.NewInt(1), HasOutcome: true}}},
		{"zero stake", []domain.Pool{{ID: 0}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := escrow.Restore(cfg, tt.pools, quietLogger())
			assert.Error(t, err)
		})
	}
}

func TestRegistry_VersionAdvancesOnEveryMutation(t *testing.T) {
	f := newFixture(t)

	p, err := f.reg.GetPool(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), p.Version)

	p, err = f.reg.Join(f.ctx, 0, player1)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), p.Version)

	_, err = f.reg.Join(f.ctx, 0, player1)
	require.Error(t, err)
	p, err = f.reg.GetPool(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), p.Version, "rejected operations do not bump the version")
}

func TestRegistry_GetParticipantsEmpty(t *testing.T) {
	f := newFixture(t)

	parts, err := f.reg.GetParticipants(1)
	require.NoError(t, err)
	assert.NotNil(t, parts)
	assert.Empty(t, parts)

	_, err = f.reg.GetParticipants(5)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

type recordingCommitter struct {
	ledger  domain.TokenLedger
	err     error
	commits []domain.Pool
}

func (c *recordingCommitter) CommitPool(ctx context.Context, p domain.Pool, moves domain.LedgerMoves) error {
	if c.err != nil {
		return c.err
	}
	if moves != nil {
		if err := moves(ctx, c.ledger); err != nil {
			return err
		}
	}
	c.commits = append(c.commits, p)
	return nil
}

func TestRegistry_CommitterSeesEveryChange(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemory(admin, uint256.NewInt(1000))
	require.NoError(t, l.Transfer(ctx, admin, player1, uint256.NewInt(100)))
	require.NoError(t, l.Approve(ctx, player1, escrowAc, uint256.NewInt(100)))

	c := &recordingCommitter{ledger: l}
	reg, err := escrow.New(escrow.Config{
		Administrator:    admin,
		EscrowAccount:    escrowAc,
		RewardMultiplier: 90,
		Ledger:           l,
		Committer:        c,
	}, quietLogger())
	require.NoError(t, err)

	_, err = reg.CreatePool(ctx, admin, uint256.NewInt(50))
	require.NoError(t, err)
	_, err = reg.SetStake(ctx, admin, 0, uint256.NewInt(40))
	require.NoError(t, err)
	_, err = reg.Join(ctx, 0, player1)
	require.NoError(t, err)

	require.Len(t, c.commits, 3)
	for i, p := range c.commits {
		assert.Equal(t, uint64(i+1), p.Version)
	}
	assert.Equal(t, domain.PoolOneJoined, c.commits[2].State)

	bal, err := l.BalanceOf(ctx, escrowAc)
	require.NoError(t, err)
	assert.Equal(t, uint64(40), bal.Uint64())
}

func TestRegistry_CommitFailureLeavesRegistryUnchanged(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemory(admin, uint256.NewInt(1000))
	c := &recordingCommitter{ledger: l}
	reg, err := escrow.New(escrow.Config{
		Administrator:    admin,
		EscrowAccount:    escrowAc,
		RewardMultiplier: 90,
		Ledger:           l,
		Committer:        c,
	}, quietLogger())
	require.NoError(t, err)
	_, err = reg.CreatePool(ctx, admin, uint256.NewInt(50))
	require.NoError(t, err)

	c.err = errors.New("write failed")
	_, err = reg.CreatePool(ctx, admin, uint256.NewInt(70))
	assert.ErrorIs(t, err, c.err)
	_, err = reg.SetStake(ctx, admin, 0, uint256.NewInt(60))
	assert.ErrorIs(t, err, c.err)

	assert.Equal(t, uint64(1), reg.PoolCount())
	p, err := reg.GetPool(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), p.StakeAmount.Uint64())
	assert.Equal(t, uint64(1), p.Version)

	// The pool is not left busy.
	c.err = nil
	_, err = reg.SetStake(ctx, admin, 0, uint256.NewInt(60))
	require.NoError(t, err)
}
