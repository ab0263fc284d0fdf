package escrow

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/polkawar/internal/domain"
)

// IsAdministrator reports whether addr is the registry administrator.
func (r *Registry) IsAdministrator(addr common.Address) bool {
	return addr == r.cfg.Administrator
}

func (r *Registry) requireAdmin(caller common.Address, op string) error {
	if !r.IsAdministrator(caller) {
		return fmt.Errorf("escrow: %s: %w: %s is not the administrator", op, domain.ErrUnauthorized, caller.Hex())
	}
	return nil
}

func newSettlementID() string {
	return uuid.NewString()
}
