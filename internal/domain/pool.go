package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// PoolState is the position of a pool in its round lifecycle. The numeric
// values are part of the public API (0 = empty, 1 = one joined, 2 = full).
type PoolState uint8

const (
	PoolEmpty PoolState = iota
	PoolOneJoined
	PoolFull
)

// MaxParticipants is the number of participants that fills a round.
const MaxParticipants = 2

// String returns the lower-case name of the state.
func (s PoolState) String() string {
	switch s {
	case PoolEmpty:
		return "empty"
	case PoolOneJoined:
		return "one_joined"
	case PoolFull:
		return "full"
	default:
		return "unknown"
	}
}

// StateForParticipants returns the state implied by a participant count.
func StateForParticipants(n int) PoolState {
	switch {
	case n <= 0:
		return PoolEmpty
	case n == 1:
		return PoolOneJoined
	default:
		return PoolFull
	}
}

// Pool is one reusable wagering slot. Winner, IsDraw and HasOutcome only
// carry meaning while State is PoolFull.
type Pool struct {
	ID           uint64
	StakeAmount  uint256.Int
	State        PoolState
	Participants []common.Address
	Winner       common.Address
	IsDraw       bool
	HasOutcome   bool
	// Round counts completed settlements of this pool.
	Round uint64
	// Version increases on every committed mutation.
	Version uint64
}

// Clone returns a deep copy that shares no memory with p.
func (p Pool) Clone() Pool {
	out := p
	if p.Participants != nil {
		out.Participants = make([]common.Address, len(p.Participants))
		copy(out.Participants, p.Participants)
	}
	return out
}

// Pot is the total escrowed for a full round: stake * 2.
func (p Pool) Pot() uint256.Int {
	var pot uint256.Int
	pot.Mul(&p.StakeAmount, uint256.NewInt(MaxParticipants))
	return pot
}

// HasParticipant reports whether addr occupies a slot in the current round.
func (p Pool) HasParticipant(addr common.Address) bool {
	for _, a := range p.Participants {
		if a == addr {
			return true
		}
	}
	return false
}

// Consistent reports whether the state agrees with the participant list and
// outcome fields.
func (p Pool) Consistent() bool {
	if len(p.Participants) > MaxParticipants {
		return false
	}
	if StateForParticipants(len(p.Participants)) != p.State {
		return false
	}
	if p.State != PoolFull && (p.HasOutcome || p.IsDraw || p.Winner != (common.Address{})) {
		return false
	}
	return true
}

// RegistryConfig is the process-wide configuration of a pool registry. It
// is fixed once the registry is created.
type RegistryConfig struct {
	Administrator    common.Address
	EscrowAccount    common.Address
	RewardMultiplier uint64
}

// PoolJSON is the wire form of a Pool.
type PoolJSON struct {
	ID           uint64           `json:"id"`
	Stake        string           `json:"stake"`
	State        PoolState        `json:"state"`
	StateName    string           `json:"state_name"`
	Participants []common.Address `json:"participants"`
	Winner       common.Address   `json:"winner"`
	IsDraw       bool             `json:"is_draw"`
	HasOutcome   bool             `json:"has_outcome"`
	Round        uint64           `json:"round"`
	Version      uint64           `json:"version"`
}

// JSON returns the wire form of p.
func (p Pool) JSON() PoolJSON {
	parts := p.Participants
	if parts == nil {
		parts = []common.Address{}
	}
	return PoolJSON{
		ID:           p.ID,
		Stake:        p.StakeAmount.Dec(),
		State:        p.State,
		StateName:    p.State.String(),
		Participants: parts,
		Winner:       p.Winner,
		IsDraw:       p.IsDraw,
		HasOutcome:   p.HasOutcome,
		Round:        p.Round,
		Version:      p.Version,
	}
}

// Event builds the bus payload announcing that p changed.
func (p Pool) Event(name string, caller common.Address, settlementID string, at time.Time) PoolEvent {
	ev := PoolEvent{
		Event:        name,
		PoolID:       p.ID,
		Round:        p.Round,
		State:        p.State.String(),
		Stake:        p.StakeAmount.Dec(),
		Participants: make([]string, len(p.Participants)),
		IsDraw:       p.IsDraw,
		SettlementID: settlementID,
		At:           at,
	}
	for i, a := range p.Participants {
		ev.Participants[i] = a.Hex()
	}
	if p.Winner != (common.Address{}) {
		ev.Winner = p.Winner.Hex()
	}
	if caller != (common.Address{}) {
		ev.Caller = caller.Hex()
	}
	return ev
}
