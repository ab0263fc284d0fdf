package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// SettlementKind distinguishes the two ways a round is closed out.
type SettlementKind string

const (
	SettlementWin  SettlementKind = "win"
	SettlementDraw SettlementKind = "draw"
)

// Payout is a single transfer out of escrow.
type Payout struct {
	To     common.Address
	Amount uint256.Int
}

// Settlement records one closed round.
type Settlement struct {
	ID           string
	PoolID       uint64
	Round        uint64
	Kind         SettlementKind
	Stake        uint256.Int
	Pot          uint256.Int
	WinnerPayout uint256.Int
	Fee          uint256.Int
	Winner       common.Address
	Participants []common.Address
	Payouts      []Payout
	SettledAt    time.Time
}

// Total sums every payout in s.
func (s Settlement) Total() uint256.Int {
	var total uint256.Int
	for i := range s.Payouts {
		total.Add(&total, &s.Payouts[i].Amount)
	}
	return total
}

// PayoutJSON is the wire form of a Payout.
type PayoutJSON struct {
	To     common.Address `json:"to"`
	Amount string         `json:"amount"`
}

// SettlementJSON is the wire form of a Settlement. Amounts are decimal
// strings.
type SettlementJSON struct {
	ID           string           `json:"id"`
	PoolID       uint64           `json:"pool_id"`
	Round        uint64           `json:"round"`
	Kind         SettlementKind   `json:"kind"`
	Stake        string           `json:"stake"`
	Pot          string           `json:"pot"`
	WinnerPayout string           `json:"winner_payout"`
	Fee          string           `json:"fee"`
	Winner       common.Address   `json:"winner"`
	Participants []common.Address `json:"participants"`
	Payouts      []PayoutJSON     `json:"payouts"`
	SettledAt    time.Time        `json:"settled_at"`
}

// JSON returns the wire form of s.
func (s Settlement) JSON() SettlementJSON {
	out := SettlementJSON{
		ID:           s.ID,
		PoolID:       s.PoolID,
		Round:        s.Round,
		Kind:         s.Kind,
		Stake:        s.Stake.Dec(),
		Pot:          s.Pot.Dec(),
		WinnerPayout: s.WinnerPayout.Dec(),
		Fee:          s.Fee.Dec(),
		Winner:       s.Winner,
		Participants: s.Participants,
		Payouts:      make([]PayoutJSON, len(s.Payouts)),
		SettledAt:    s.SettledAt,
	}
	if out.Participants == nil {
		out.Participants = []common.Address{}
	}
	for i, p := range s.Payouts {
		out.Payouts[i] = PayoutJSON{To: p.To, Amount: p.Amount.Dec()}
	}
	return out
}

// MarshalJSON encodes s in its wire form.
func (s Settlement) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.JSON())
}

// UnmarshalJSON decodes the wire form produced by MarshalJSON.
func (s *Settlement) UnmarshalJSON(data []byte) error {
	var w SettlementJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	out := Settlement{
		ID:           w.ID,
		PoolID:       w.PoolID,
		Round:        w.Round,
		Kind:         w.Kind,
		Winner:       w.Winner,
		Participants: w.Participants,
		SettledAt:    w.SettledAt,
	}
	for _, f := range []struct {
		dst *uint256.Int
		src string
	}{
		{&out.Stake, w.Stake},
		{&out.Pot, w.Pot},
		{&out.WinnerPayout, w.WinnerPayout},
		{&out.Fee, w.Fee},
	} {
		v, err := ParseAmount(f.src)
		if err != nil {
			return err
		}
		*f.dst = v
	}
	out.Payouts = make([]Payout, len(w.Payouts))
	for i, p := range w.Payouts {
		v, err := ParseAmount(p.Amount)
		if err != nil {
			return err
		}
		out.Payouts[i] = Payout{To: p.To, Amount: v}
	}
	*s = out
	return nil
}

// ParseAmount parses a non-negative decimal token amount.
func ParseAmount(s string) (uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return uint256.Int{}, fmt.Errorf("%w: %q is not a decimal amount", ErrInvalidAmount, s)
	}
	return *v, nil
}
