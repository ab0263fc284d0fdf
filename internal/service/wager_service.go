package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/polkawar/internal/domain"
	"github.com/alanyoungcy/polkawar/internal/escrow"
	"github.com/alanyoungcy/polkawar/internal/metrics"
)

// Notifier delivers operator notifications for selected events.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// ErrArchiveDisabled is returned by Archive when no archiver is configured.
var ErrArchiveDisabled = errors.New("archive is not configured")

// WagerService drives the escrow registry and fans every committed result
// out to the settlement history, the audit log, the signal bus and
// notifications. Pool state itself is persisted by the registry's committer.
// Fan-out failures are logged, never returned: once the registry has
// committed, the operation has happened.
type WagerService struct {
	reg         *escrow.Registry
	ledger      domain.TokenLedger
	settlements domain.SettlementStore
	audit       domain.AuditStore
	bus         domain.SignalBus
	notifier    Notifier
	archiver    domain.Archiver
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time
}

// NewWagerService creates a WagerService. Every dependency except reg and
// ledger may be nil, in which case that fan-out step is skipped.
func NewWagerService(
	reg *escrow.Registry,
	ledger domain.TokenLedger,
	settlements domain.SettlementStore,
	audit domain.AuditStore,
	bus domain.SignalBus,
	notifier Notifier,
	logger *slog.Logger,
) *WagerService {
	if logger == nil {
		logger = slog.Default()
	}
	return &WagerService{
		reg:         reg,
		ledger:      ledger,
		settlements: settlements,
		audit:       audit,
		bus:         bus,
		notifier:    notifier,
		logger:      logger.With(slog.String("component", "wager_service")),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithArchiver attaches the settlement archiver used by Archive.
func (s *WagerService) WithArchiver(a domain.Archiver) *WagerService {
	s.archiver = a
	return s
}

// WithMetrics attaches the Prometheus collectors operations report to.
func (s *WagerService) WithMetrics(m *metrics.Metrics) *WagerService {
	s.metrics = m
	m.SetPools(s.reg.PoolCount())
	return s
}

// Registry returns the underlying escrow registry.
func (s *WagerService) Registry() *escrow.Registry {
	return s.reg
}

// ---------------------------------------------------------------------------
// Pool operations
// ---------------------------------------------------------------------------

// CreatePool creates a pool with the given stake.
func (s *WagerService) CreatePool(ctx context.Context, caller common.Address, stake *uint256.Int) (domain.Pool, error) {
	start := time.Now()
	p, err := s.reg.CreatePool(ctx, caller, stake)
	s.metrics.Observe("create_pool", start, err)
	if err != nil {
		return domain.Pool{}, err
	}
	s.metrics.SetPools(s.reg.PoolCount())
	s.committed(ctx, domain.EventPoolCreated, p, caller, map[string]any{"stake": p.StakeAmount.Dec()})
	return p, nil
}

// SetStake changes the stake of an empty pool.
func (s *WagerService) SetStake(ctx context.Context, caller common.Address, id uint64, stake *uint256.Int) (domain.Pool, error) {
	start := time.Now()
	p, err := s.reg.SetStake(ctx, caller, id, stake)
	s.metrics.Observe("set_stake", start, err)
	if err != nil {
		return domain.Pool{}, err
	}
	s.committed(ctx, domain.EventStakeUpdated, p, caller, map[string]any{"stake": p.StakeAmount.Dec()})
	return p, nil
}

// Join admits caller to pool id.
func (s *WagerService) Join(ctx context.Context, id uint64, caller common.Address) (domain.Pool, error) {
	start := time.Now()
	p, err := s.reg.Join(ctx, id, caller)
	s.metrics.Observe("join", start, err)
	if err != nil {
		return domain.Pool{}, err
	}
	s.committed(ctx, domain.EventPoolJoined, p, caller, map[string]any{
		"participant": caller.Hex(),
		"state":       p.State.String(),
	})
	return p, nil
}

// RecordOutcome records the result of the current round of pool id.
func (s *WagerService) RecordOutcome(ctx context.Context, caller common.Address, id uint64, winner common.Address, isDraw bool) (domain.Pool, error) {
	start := time.Now()
	p, err := s.reg.RecordOutcome(ctx, caller, id, winner, isDraw)
	s.metrics.Observe("record_outcome", start, err)
	if err != nil {
		return domain.Pool{}, err
	}
	s.committed(ctx, domain.EventOutcomeRecorded, p, caller, map[string]any{
		"winner":  winner.Hex(),
		"is_draw": isDraw,
	})

	result := "winner " + winner.Hex()
	if isDraw {
		result = "draw"
	}
	s.notify(ctx, domain.EventOutcomeRecorded,
		fmt.Sprintf("Pool %d outcome recorded", id),
		fmt.Sprintf("Round %d of pool %d ended: %s.", p.Round, id, result))
	return p, nil
}

// Claim settles a won round for its winner.
func (s *WagerService) Claim(ctx context.Context, id uint64, caller common.Address) (domain.Settlement, error) {
	start := time.Now()
	st, p, err := s.reg.Claim(ctx, id, caller)
	s.metrics.Observe("claim", start, err)
	if err != nil {
		return domain.Settlement{}, err
	}
	s.settled(ctx, st, p, caller)
	return st, nil
}

// SettleDraw settles a drawn round.
func (s *WagerService) SettleDraw(ctx context.Context, caller common.Address, id uint64) (domain.Settlement, error) {
	start := time.Now()
	st, p, err := s.reg.SettleDraw(ctx, caller, id)
	s.metrics.Observe("settle_draw", start, err)
	if err != nil {
		return domain.Settlement{}, err
	}
	s.settled(ctx, st, p, caller)
	return st, nil
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

// Pool returns the committed state of pool id.
func (s *WagerService) Pool(id uint64) (domain.Pool, error) {
	return s.reg.GetPool(id)
}

// Pools returns every pool in id order.
func (s *WagerService) Pools() []domain.Pool {
	return s.reg.Pools()
}

// Participants returns the participants of the current round of pool id.
func (s *WagerService) Participants(id uint64) ([]common.Address, error) {
	return s.reg.GetParticipants(id)
}

// RegistryInfo describes the registry configuration and size.
type RegistryInfo struct {
	Administrator    common.Address `json:"administrator"`
	EscrowAccount    common.Address `json:"escrow_account"`
	RewardMultiplier uint64         `json:"reward_multiplier"`
	PoolCount        uint64         `json:"pool_count"`
}

// Info returns the registry configuration and pool count.
func (s *WagerService) Info() RegistryInfo {
	return RegistryInfo{
		Administrator:    s.reg.Administrator(),
		EscrowAccount:    s.reg.EscrowAccount(),
		RewardMultiplier: s.reg.RewardMultiplier(),
		PoolCount:        s.reg.PoolCount(),
	}
}

// Settlements returns recent settlements, newest first.
func (s *WagerService) Settlements(ctx context.Context, opts domain.ListOpts) ([]domain.Settlement, error) {
	if s.settlements == nil {
		return nil, nil
	}
	return s.settlements.ListRecent(ctx, opts)
}

// Settlement returns a single settlement by id.
func (s *WagerService) Settlement(ctx context.Context, id string) (domain.Settlement, error) {
	if s.settlements == nil {
		return domain.Settlement{}, domain.ErrNotFound
	}
	return s.settlements.GetByID(ctx, id)
}

// Events returns up to count bus events appended after lastID.
func (s *WagerService) Events(ctx context.Context, lastID string, count int) ([]domain.StreamMessage, error) {
	if s.bus == nil {
		return nil, nil
	}
	if lastID == "" {
		lastID = "0"
	}
	return s.bus.StreamRead(ctx, domain.StreamEvents, lastID, count)
}

// ---------------------------------------------------------------------------
// Ledger passthrough
// ---------------------------------------------------------------------------

// Balance returns the ledger balance of account.
func (s *WagerService) Balance(ctx context.Context, account common.Address) (uint256.Int, error) {
	return s.ledger.BalanceOf(ctx, account)
}

// Allowance returns what spender may move from owner.
func (s *WagerService) Allowance(ctx context.Context, owner, spender common.Address) (uint256.Int, error) {
	return s.ledger.Allowance(ctx, owner, spender)
}

// Supply returns the ledger's total supply.
func (s *WagerService) Supply(ctx context.Context) (uint256.Int, error) {
	return s.ledger.TotalSupply(ctx)
}

// Transfer moves amount from caller to recipient.
func (s *WagerService) Transfer(ctx context.Context, caller, recipient common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return fmt.Errorf("%w: transfer amount must be positive", domain.ErrInvalidAmount)
	}
	if recipient == (common.Address{}) {
		return fmt.Errorf("%w: zero recipient", domain.ErrInvalidParticipant)
	}
	start := time.Now()
	err := s.ledger.Transfer(ctx, caller, recipient, amount)
	s.metrics.Observe("transfer", start, err)
	return err
}

// Approve sets spender's allowance over caller's balance.
func (s *WagerService) Approve(ctx context.Context, caller, spender common.Address, amount *uint256.Int) error {
	if spender == (common.Address{}) {
		return fmt.Errorf("%w: zero spender", domain.ErrInvalidParticipant)
	}
	start := time.Now()
	err := s.ledger.Approve(ctx, caller, spender, amount)
	s.metrics.Observe("approve", start, err)
	return err
}

// ---------------------------------------------------------------------------
// Archive
// ---------------------------------------------------------------------------

// Archive copies settlements older than before to cold storage. Only the
// administrator may trigger it.
func (s *WagerService) Archive(ctx context.Context, caller common.Address, before time.Time) (int64, error) {
	if !s.reg.IsAdministrator(caller) {
		return 0, fmt.Errorf("archive: %w: %s is not the administrator", domain.ErrUnauthorized, caller.Hex())
	}
	return s.RunArchive(ctx, before)
}

// RunArchive archives settlements older than before without a caller check;
// it backs the periodic job and the archive run mode.
func (s *WagerService) RunArchive(ctx context.Context, before time.Time) (int64, error) {
	if s.archiver == nil {
		return 0, ErrArchiveDisabled
	}
	n, err := s.archiver.ArchiveSettlements(ctx, before)
	if err != nil {
		return 0, err
	}
	s.logger.InfoContext(ctx, "wager_service: settlements archived",
		slog.Int64("count", n),
		slog.String("before", before.Format(time.RFC3339)),
	)
	return n, nil
}

// ---------------------------------------------------------------------------
// Fan-out
// ---------------------------------------------------------------------------

func (s *WagerService) committed(ctx context.Context, event string, p domain.Pool, caller common.Address, detail map[string]any) {
	detail["pool_id"] = p.ID
	detail["round"] = p.Round
	detail["caller"] = caller.Hex()
	s.auditLog(ctx, event, detail)
	s.publish(ctx, domain.ChannelPools, p.Event(event, caller, "", s.now()))
}

func (s *WagerService) settled(ctx context.Context, st domain.Settlement, p domain.Pool, caller common.Address) {
	s.metrics.Settled(st)
	if s.settlements != nil {
		if err := s.settlements.Insert(ctx, st); err != nil {
			s.logger.ErrorContext(ctx, "wager_service: persist settlement failed",
				slog.String("settlement_id", st.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	s.auditLog(ctx, domain.EventPoolSettled, map[string]any{
		"pool_id":       st.PoolID,
		"round":         st.Round,
		"kind":          string(st.Kind),
		"pot":           st.Pot.Dec(),
		"winner_payout": st.WinnerPayout.Dec(),
		"fee":           st.Fee.Dec(),
		"winner":        st.Winner.Hex(),
		"settlement_id": st.ID,
		"caller":        caller.Hex(),
	})

	ev := p.Event(domain.EventPoolSettled, caller, st.ID, st.SettledAt)
	ev.Round = st.Round
	ev.IsDraw = st.Kind == domain.SettlementDraw
	if !ev.IsDraw {
		ev.Winner = st.Winner.Hex()
	}
	for _, a := range st.Participants {
		ev.Participants = append(ev.Participants, a.Hex())
	}
	s.publish(ctx, domain.ChannelPools, ev)
	s.publish(ctx, domain.ChannelSettlements, st.JSON())

	var msg string
	if st.Kind == domain.SettlementDraw {
		msg = fmt.Sprintf("Round %d of pool %d was a draw: each participant received %s, fee %s.",
			st.Round, st.PoolID, st.Payouts[0].Amount.Dec(), st.Fee.Dec())
	} else {
		msg = fmt.Sprintf("Round %d of pool %d won by %s: payout %s, fee %s.",
			st.Round, st.PoolID, st.Winner.Hex(), st.WinnerPayout.Dec(), st.Fee.Dec())
	}
	s.notify(ctx, domain.EventPoolSettled, fmt.Sprintf("Pool %d settled", st.PoolID), msg)
}

func (s *WagerService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "wager_service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (s *WagerService) publish(ctx context.Context, channel string, payload any) {
	if s.bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.WarnContext(ctx, "wager_service: marshal event failed", slog.String("error", err.Error()))
		return
	}
	if err := s.bus.Publish(ctx, channel, data); err != nil {
		s.logger.WarnContext(ctx, "wager_service: publish event failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
	if err := s.bus.StreamAppend(ctx, domain.StreamEvents, data); err != nil {
		s.logger.WarnContext(ctx, "wager_service: stream append failed",
			slog.String("error", err.Error()),
		)
	}
}

func (s *WagerService) notify(ctx context.Context, event, title, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, event, title, message); err != nil {
		s.logger.WarnContext(ctx, "wager_service: notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
