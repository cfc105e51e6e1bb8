// Package memory is an in-process Ledger Store. It honours the same locking
// contract as the PostgreSQL store: ...ForUpdate reads take a per-row lock
// that is held until the owning Tx commits or rolls back.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"escrow-ledger/internal/core/domain"
	"escrow-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrForeignTx is returned when a repository is handed a pgx.Tx that was not
// started by the same Store.
var ErrForeignTx = errors.New("memory: transaction does not belong to this store")

type rowLock struct {
	owner    *Tx
	released chan struct{}
}

// Store holds every table of the ledger. Non-locking reads see the latest
// written value, including writes of scopes that have not committed yet.
type Store struct {
	mu          sync.Mutex
	locks       map[string]*rowLock
	lockTimeout time.Duration

	wallets      map[uuid.UUID]*domain.Wallet
	transactions map[uuid.UUID]*domain.Transaction
	frozen       map[uuid.UUID]*domain.FrozenFunds
	purchases    map[uuid.UUID]*domain.PurchaseRecord
	refunds      map[uuid.UUID]*domain.RefundRequest
	banks        map[string]domain.Bank
	items        map[uuid.UUID]domain.CatalogItem
	audit        []domain.AuditLog
}

// New creates an empty Store. A zero lockTimeout waits on the context only.
func New(lockTimeout time.Duration) *Store {
	return &Store{
		locks:        make(map[string]*rowLock),
		lockTimeout:  lockTimeout,
		wallets:      make(map[uuid.UUID]*domain.Wallet),
		transactions: make(map[uuid.UUID]*domain.Transaction),
		frozen:       make(map[uuid.UUID]*domain.FrozenFunds),
		purchases:    make(map[uuid.UUID]*domain.PurchaseRecord),
		refunds:      make(map[uuid.UUID]*domain.RefundRequest),
		banks:        make(map[string]domain.Bank),
		items:        make(map[uuid.UUID]domain.CatalogItem),
	}
}

// Begin implements ports.DBTransactor.
func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Tx{store: s}, nil
}

// Ping implements ports.HealthChecker.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Name implements ports.HealthChecker.
func (s *Store) Name() string {
	return "memory"
}

// Tx is the atomic scope handle. Only Commit and Rollback are implemented;
// the remaining pgx.Tx methods are not used by the repositories.
type Tx struct {
	pgx.Tx

	store  *Store
	held   []string
	undo   []func()
	closed bool
}

// Commit releases every row lock held by the scope.
func (t *Tx) Commit(ctx context.Context) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	if t.closed {
		return pgx.ErrTxClosed
	}
	t.closed = true
	t.undo = nil
	t.store.releaseLocked(t)
	return nil
}

// Rollback reverts the scope's writes in reverse order and releases its
// locks. Calling it after Commit returns pgx.ErrTxClosed like pgx does.
func (t *Tx) Rollback(ctx context.Context) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	if t.closed {
		return pgx.ErrTxClosed
	}
	t.closed = true
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
	t.store.releaseLocked(t)
	return nil
}

// releaseLocked must be called with s.mu held.
func (s *Store) releaseLocked(t *Tx) {
	for _, key := range t.held {
		if l, ok := s.locks[key]; ok && l.owner == t {
			delete(s.locks, key)
			close(l.released)
		}
	}
	t.held = nil
}

// lock acquires the row lock for key on behalf of t. Re-acquiring a lock
// the scope already holds is a no-op.
func (s *Store) lock(ctx context.Context, t *Tx, key string) error {
	var timeout <-chan time.Time
	if s.lockTimeout > 0 {
		timer := time.NewTimer(s.lockTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		s.mu.Lock()
		if t.closed {
			s.mu.Unlock()
			return pgx.ErrTxClosed
		}
		l, ok := s.locks[key]
		if !ok {
			s.locks[key] = &rowLock{owner: t, released: make(chan struct{})}
			t.held = append(t.held, key)
			s.mu.Unlock()
			return nil
		}
		if l.owner == t {
			s.mu.Unlock()
			return nil
		}
		wait := l.released
		s.mu.Unlock()

		select {
		case <-wait:
		case <-timeout:
			return fmt.Errorf("lock %s: %w", key, ports.ErrLockTimeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// write runs fn under the store mutex and records its inverse on t.
func (s *Store) write(t *Tx, fn func() (undo func(), err error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.closed {
		return pgx.ErrTxClosed
	}
	undo, err := fn()
	if err != nil {
		return err
	}
	if undo != nil {
		t.undo = append(t.undo, undo)
	}
	return nil
}

func (s *Store) txOf(tx pgx.Tx) (*Tx, error) {
	t, ok := tx.(*Tx)
	if !ok || t.store != s {
		return nil, ErrForeignTx
	}
	return t, nil
}

// SeedBank registers a payout bank.
func (s *Store) SeedBank(b domain.Bank) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.banks[b.Name] = b
}

// AuditEntries returns a copy of the audit trail, oldest first.
func (s *Store) AuditEntries() []domain.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.AuditLog, len(s.audit))
	copy(out, s.audit)
	return out
}

func lockKey(table string, id uuid.UUID) string {
	return table + ":" + id.String()
}
