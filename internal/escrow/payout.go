package escrow

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/polkawar/internal/domain"
)

// percentBase is the denominator of the reward multiplier.
const percentBase = 100

// Split is the division of one pot.
type Split struct {
	Pot          uint256.Int
	WinnerPayout uint256.Int
	Fee          uint256.Int
	Payouts      []domain.Payout
}

// winnerShare returns floor(pot * multiplier / 100).
func winnerShare(pot *uint256.Int, multiplier uint64) uint256.Int {
	var out uint256.Int
	out.Mul(pot, uint256.NewInt(multiplier))
	out.Div(&out, uint256.NewInt(percentBase))
	return out
}

// WinSplit pays floor(pot*multiplier/100) to winner and the remainder of the
// pot to admin.
func WinSplit(stake *uint256.Int, multiplier uint64, winner, admin common.Address) Split {
	var s Split
	s.Pot.Mul(stake, uint256.NewInt(domain.MaxParticipants))
	s.WinnerPayout = winnerShare(&s.Pot, multiplier)
	s.Fee.Sub(&s.Pot, &s.WinnerPayout)
	s.Payouts = []domain.Payout{
		{To: winner, Amount: s.WinnerPayout},
		{To: admin, Amount: s.Fee},
	}
	return s
}

// DrawSplit pays floor(floor(pot*multiplier/100)/2) to each participant and
// the rest of the pot to admin, so an odd reward share leaves its last unit
// in the fee. WinnerPayout records what the participants received together.
func DrawSplit(stake *uint256.Int, multiplier uint64, participants []common.Address, admin common.Address) Split {
	var s Split
	s.Pot.Mul(stake, uint256.NewInt(domain.MaxParticipants))
	reward := winnerShare(&s.Pot, multiplier)

	var share uint256.Int
	share.Div(&reward, uint256.NewInt(uint64(len(participants))))
	s.Payouts = make([]domain.Payout, 0, len(participants)+1)
	for _, p := range participants {
		s.Payouts = append(s.Payouts, domain.Payout{To: p, Amount: share})
		s.WinnerPayout.Add(&s.WinnerPayout, &share)
	}
	s.Fee.Sub(&s.Pot, &s.WinnerPayout)
	s.Payouts = append(s.Payouts, domain.Payout{To: admin, Amount: s.Fee})
	return s
}

// maxStakeFactor bounds stake so that stake * 2 * 100 fits in 256 bits.
var maxStakeFactor = uint256.NewInt(domain.MaxParticipants * percentBase)

func checkStake(stake *uint256.Int) error {
	if stake == nil || stake.IsZero() {
		return fmt.Errorf("%w: stake must be positive", domain.ErrInvalidAmount)
	}
	if _, overflow := new(uint256.Int).MulOverflow(stake, maxStakeFactor); overflow {
		return fmt.Errorf("%w: stake %s overflows pot arithmetic", domain.ErrInvalidAmount, stake.Dec())
	}
	return nil
}
