package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"escrow-ledger/internal/core/domain"
	"escrow-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// TransactionRepo implements ports.TransactionRepository.
type TransactionRepo struct {
	s *Store
}

// NewTransactionRepo creates a TransactionRepo over s.
func NewTransactionRepo(s *Store) *TransactionRepo {
	return &TransactionRepo{s: s}
}

func (r *TransactionRepo) Create(ctx context.Context, tx pgx.Tx, txn *domain.Transaction) error {
	t, err := r.s.txOf(tx)
	if err != nil {
		return err
	}
	return r.s.write(t, func() (func(), error) {
		if _, ok := r.s.transactions[txn.ID]; ok {
			return nil, fmt.Errorf("insert transaction: duplicate id %s", txn.ID)
		}
		for _, existing := range r.s.transactions {
			if existing.ExternalID == txn.ExternalID {
				return nil, fmt.Errorf("insert transaction: duplicate external_id %q", txn.ExternalID)
			}
		}
		cp := *txn
		r.s.transactions[txn.ID] = &cp
		return func() { delete(r.s.transactions, txn.ID) }, nil
	})
}

func (r *TransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.getLocked(id), nil
}

func (r *TransactionRepo) GetByExternalID(ctx context.Context, externalID string) (*domain.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, txn := range r.s.transactions {
		if txn.ExternalID == externalID {
			return r.getLocked(id), nil
		}
	}
	return nil, nil
}

func (r *TransactionRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Transaction, error) {
	t, err := r.s.txOf(tx)
	if err != nil {
		return nil, err
	}
	if err := r.s.lock(ctx, t, lockKey("transactions", id)); err != nil {
		return nil, fmt.Errorf("get transaction for update: %w", err)
	}
	return r.GetByID(ctx, id)
}

func (r *TransactionRepo) TransitionStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, from, to domain.TransactionStatus) (bool, error) {
	t, err := r.s.txOf(tx)
	if err != nil {
		return false, err
	}
	applied := false
	err = r.s.write(t, func() (func(), error) {
		txn, ok := r.s.transactions[id]
		if !ok || txn.Status != from {
			return nil, nil
		}
		prev := *txn
		txn.Status, txn.UpdatedAt = to, time.Now().UTC()
		applied = true
		return func() { *txn = prev }, nil
	})
	return applied, err
}

func (r *TransactionRepo) MarkSubmitted(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) error {
	t, err := r.s.txOf(tx)
	if err != nil {
		return err
	}
	return r.s.write(t, func() (func(), error) {
		txn, ok := r.s.transactions[id]
		if !ok || txn.SubmittedAt != nil {
			return nil, fmt.Errorf("transaction %s already submitted or missing", id)
		}
		prev := *txn
		submitted := at
		txn.SubmittedAt, txn.UpdatedAt = &submitted, time.Now().UTC()
		return func() { *txn = prev }, nil
	})
}

func (r *TransactionRepo) SetPaymentID(ctx context.Context, tx pgx.Tx, id uuid.UUID, paymentID string) error {
	t, err := r.s.txOf(tx)
	if err != nil {
		return err
	}
	return r.s.write(t, func() (func(), error) {
		txn, ok := r.s.transactions[id]
		if !ok {
			return nil, nil
		}
		prev := *txn
		pid := paymentID
		txn.PaymentID, txn.UpdatedAt = &pid, time.Now().UTC()
		return func() { *txn = prev }, nil
	})
}

func (r *TransactionRepo) UpdateReceiptStatus(ctx context.Context, id uuid.UUID, status domain.ReceiptStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	txn, ok := r.s.transactions[id]
	if !ok {
		return fmt.Errorf("transaction not found: %s", id)
	}
	txn.ReceiptStatus, txn.UpdatedAt = status, time.Now().UTC()
	return nil
}

func (r *TransactionRepo) TransitionReceiptStatus(ctx context.Context, id uuid.UUID, from, to domain.ReceiptStatus) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	txn, ok := r.s.transactions[id]
	if !ok || txn.ReceiptStatus != from {
		return false, nil
	}
	txn.ReceiptStatus, txn.UpdatedAt = to, time.Now().UTC()
	return true, nil
}

func (r *TransactionRepo) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]domain.Transaction, error) {
	return r.filter(limit, byCreated, func(t *domain.Transaction) bool {
		return t.Status == domain.TransactionStatusPending && t.CreatedAt.Before(olderThan) && t.SubmittedAt == nil
	}), nil
}

func (r *TransactionRepo) ListSubmittedPayouts(ctx context.Context, limit int) ([]domain.Transaction, error) {
	return r.filter(limit, bySubmitted, func(t *domain.Transaction) bool {
		return t.Type == domain.TransactionTypeWithdraw && t.Status == domain.TransactionStatusPending && t.SubmittedAt != nil
	}), nil
}

func (r *TransactionRepo) List(ctx context.Context, params ports.TransactionListParams) ([]domain.Transaction, int64, error) {
	all := r.filter(0, byCreatedDesc, func(t *domain.Transaction) bool {
		if t.WalletID != params.WalletID {
			return false
		}
		if params.Status != nil && t.Status != *params.Status {
			return false
		}
		if params.Type != nil && t.Type != *params.Type {
			return false
		}
		return true
	})
	total := int64(len(all))

	start := (params.Page - 1) * params.PageSize
	if start < 0 || start >= len(all) {
		return []domain.Transaction{}, total, nil
	}
	end := start + params.PageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

type txnOrder func(a, b *domain.Transaction) bool

func byCreated(a, b *domain.Transaction) bool     { return a.CreatedAt.Before(b.CreatedAt) }
func byCreatedDesc(a, b *domain.Transaction) bool { return a.CreatedAt.After(b.CreatedAt) }
func bySubmitted(a, b *domain.Transaction) bool   { return a.SubmittedAt.Before(*b.SubmittedAt) }

func (r *TransactionRepo) filter(limit int, less txnOrder, keep func(*domain.Transaction) bool) []domain.Transaction {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []domain.Transaction
	for _, t := range r.s.transactions {
		if keep(t) {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(&out[i], &out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (r *TransactionRepo) getLocked(id uuid.UUID) *domain.Transaction {
	txn, ok := r.s.transactions[id]
	if !ok {
		return nil
	}
	cp := *txn
	return &cp
}
