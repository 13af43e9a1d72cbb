// Package ledgertest provides an in-memory ledger store with transactional
// copy-on-write semantics for service tests.
package ledgertest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/prenda-erp/prenda-erp/internal/ledger"
	"github.com/prenda-erp/prenda-erp/internal/shared"
)

// Store holds committed registers and movements.
type Store struct {
	mu        sync.Mutex
	registers map[uuid.UUID]ledger.Register
	movements []ledger.Movement
	// FailOn makes the named Tx method return the error on its next call.
	FailOn map[string]error
	// Writes counts committed transactions that changed state.
	Writes int
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{registers: map[uuid.UUID]ledger.Register{}, FailOn: map[string]error{}}
}

// WithTx runs fn against a private copy of the state and commits it only when fn succeeds.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := s.Begin()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.Commit(tx)
	return nil
}

// Begin snapshots the committed state. Callers composing their own store must hold their own lock.
func (s *Store) Begin() *Tx {
	regs := make(map[uuid.UUID]ledger.Register, len(s.registers))
	for id, r := range s.registers {
		regs[id] = r
	}
	movs := make([]ledger.Movement, len(s.movements))
	copy(movs, s.movements)
	return &Tx{registers: regs, movements: movs, failOn: s.FailOn}
}

// Commit publishes tx's state.
func (s *Store) Commit(tx *Tx) {
	if tx.dirty {
		s.Writes++
	}
	s.registers = tx.registers
	s.movements = tx.movements
}

// AddRegister seeds a register directly.
func (s *Store) AddRegister(reg ledger.Register) ledger.Register {
	s.mu.Lock()
	defer s.mu.Unlock()
	if reg.ID == uuid.Nil {
		reg.ID = uuid.New()
	}
	if reg.Status == "" {
		reg.Status = ledger.RegisterOpen
	}
	if reg.Balance.IsZero() {
		reg.Balance = reg.OpeningBalance
	}
	s.registers[reg.ID] = reg
	return reg
}

// Register returns the committed register.
func (s *Store) Register(id uuid.UUID) ledger.Register {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registers[id]
}

// SetBalance overwrites a stored balance, simulating drift.
func (s *Store) SetBalance(id uuid.UUID, balance decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg := s.registers[id]
	reg.Balance = balance
	s.registers[id] = reg
}

// Movements returns committed movements in insertion order.
func (s *Store) Movements() []ledger.Movement {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ledger.Movement, len(s.movements))
	copy(out, s.movements)
	return out
}

// Tx is an uncommitted view of the store.
type Tx struct {
	registers map[uuid.UUID]ledger.Register
	movements []ledger.Movement
	failOn    map[string]error
	dirty     bool
}

func (tx *Tx) fail(op string) error {
	if err, ok := tx.failOn[op]; ok {
		return err
	}
	return nil
}

func (tx *Tx) InsertRegister(ctx context.Context, reg ledger.Register) (ledger.Register, error) {
	if err := tx.fail("InsertRegister"); err != nil {
		return ledger.Register{}, err
	}
	for _, r := range tx.registers {
		if r.TenantID == reg.TenantID && r.OperatorID == reg.OperatorID && r.IsOpen() {
			return ledger.Register{}, ledger.ErrOpenRegisterExists
		}
	}
	reg.ID = uuid.New()
	reg.Status = ledger.RegisterOpen
	reg.Balance = reg.OpeningBalance
	tx.registers[reg.ID] = reg
	tx.dirty = true
	return reg, nil
}

func (tx *Tx) GetRegister(ctx context.Context, id uuid.UUID) (ledger.Register, error) {
	reg, ok := tx.registers[id]
	if !ok {
		return ledger.Register{}, ledger.ErrRegisterNotFound
	}
	return reg, nil
}

func (tx *Tx) GetRegisterForUpdate(ctx context.Context, id uuid.UUID) (ledger.Register, error) {
	return tx.GetRegister(ctx, id)
}

func (tx *Tx) GetOpenRegisterForOperator(ctx context.Context, tenantID, operatorID uuid.UUID) (ledger.Register, error) {
	for _, r := range tx.registers {
		if r.TenantID == tenantID && r.OperatorID == operatorID && r.IsOpen() {
			return r, nil
		}
	}
	return ledger.Register{}, shared.ErrNoOpenRegister
}

func (tx *Tx) AdjustRegisterBalance(ctx context.Context, id uuid.UUID, delta decimal.Decimal) (decimal.Decimal, error) {
	if err := tx.fail("AdjustRegisterBalance"); err != nil {
		return decimal.Zero, err
	}
	reg, ok := tx.registers[id]
	if !ok {
		return decimal.Zero, ledger.ErrRegisterNotFound
	}
	reg.Balance = reg.Balance.Add(delta)
	tx.registers[id] = reg
	tx.dirty = true
	return reg.Balance, nil
}

func (tx *Tx) CloseRegister(ctx context.Context, id uuid.UUID, declared decimal.Decimal, at time.Time) error {
	reg, ok := tx.registers[id]
	if !ok {
		return ledger.ErrRegisterNotFound
	}
	reg.Status = ledger.RegisterClosed
	reg.ClosedAt = &at
	reg.DeclaredClosing = decimal.NewNullDecimal(declared)
	tx.registers[id] = reg
	tx.dirty = true
	return nil
}

func (tx *Tx) InsertMovement(ctx context.Context, m ledger.Movement) (ledger.Movement, error) {
	if err := tx.fail("InsertMovement"); err != nil {
		return ledger.Movement{}, err
	}
	m.ID = uuid.New()
	tx.movements = append(tx.movements, m)
	tx.dirty = true
	return m, nil
}

func (tx *Tx) GetMovement(ctx context.Context, id uuid.UUID) (ledger.Movement, error) {
	for _, m := range tx.movements {
		if m.ID == id {
			return m, nil
		}
	}
	return ledger.Movement{}, ledger.ErrMovementNotFound
}

func (tx *Tx) GetMovementForUpdate(ctx context.Context, id uuid.UUID) (ledger.Movement, error) {
	return tx.GetMovement(ctx, id)
}

func (tx *Tx) MarkMovementVoided(ctx context.Context, id uuid.UUID, reason string, actorID uuid.UUID, at time.Time) error {
	for i, m := range tx.movements {
		if m.ID != id {
			continue
		}
		if m.Voided {
			return ledger.ErrMovementVoided
		}
		m.Voided = true
		m.VoidReason = reason
		m.VoidedBy = &actorID
		m.VoidedAt = &at
		tx.movements[i] = m
		tx.dirty = true
		return nil
	}
	return ledger.ErrMovementNotFound
}

func (tx *Tx) SumEffective(ctx context.Context, registerID uuid.UUID) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, m := range tx.movements {
		if m.RegisterID == registerID && m.Counts() {
			sum = sum.Add(m.Signed())
		}
	}
	return sum, nil
}

func (tx *Tx) ListMovements(ctx context.Context, registerID uuid.UUID) ([]ledger.Movement, error) {
	var out []ledger.Movement
	for _, m := range tx.movements {
		if m.RegisterID == registerID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (tx *Tx) ListRegistersOpenedBetween(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]ledger.Register, error) {
	var out []ledger.Register
	for _, r := range tx.registers {
		if tenantID != uuid.Nil && r.TenantID != tenantID {
			continue
		}
		if r.OpenedAt.Before(from) || !r.OpenedAt.Before(to) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out, nil
}
