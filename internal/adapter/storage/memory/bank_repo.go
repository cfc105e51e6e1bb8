package memory

import (
	"context"
	"sort"
	"strings"

	"escrow-ledger/internal/core/domain"
)

// BankRepo implements ports.BankRepository.
type BankRepo struct {
	s *Store
}

// NewBankRepo creates a BankRepo over s.
func NewBankRepo(s *Store) *BankRepo {
	return &BankRepo{s: s}
}

func (r *BankRepo) GetByName(ctx context.Context, name string) (*domain.Bank, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, b := range r.s.banks {
		if strings.EqualFold(b.Name, name) {
			cp := b
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *BankRepo) List(ctx context.Context) ([]domain.Bank, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]domain.Bank, 0, len(r.s.banks))
	for _, b := range r.s.banks {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
