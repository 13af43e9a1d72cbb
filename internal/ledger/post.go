package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Post appends a movement inside tx. The register row is locked first so
// concurrent writers on the same register serialize; the stored balance moves
// by the signed amount in the same transaction.
func Post(ctx context.Context, tx TxRepository, in AppendInput, at time.Time) (Movement, error) {
	if err := in.Validate(); err != nil {
		return Movement{}, err
	}
	reg, err := tx.GetRegisterForUpdate(ctx, in.RegisterID)
	if err != nil {
		return Movement{}, err
	}
	if !owns(in.TenantID, reg.TenantID) {
		return Movement{}, ErrRegisterNotFound
	}
	if !reg.IsOpen() {
		return Movement{}, ErrRegisterClosed
	}
	m, err := tx.InsertMovement(ctx, Movement{
		TenantID:    reg.TenantID,
		RegisterID:  reg.ID,
		Type:        in.Type,
		Concept:     in.Concept,
		Amount:      in.Amount,
		Description: strings.TrimSpace(in.Description),
		AuthorID:    in.AuthorID,
		CreatedAt:   at,
		CreditID:    in.CreditID,
		PaymentID:   in.PaymentID,
	})
	if err != nil {
		return Movement{}, err
	}
	if _, err := tx.AdjustRegisterBalance(ctx, reg.ID, m.Signed()); err != nil {
		return Movement{}, err
	}
	return m, nil
}

// Reverse voids a movement and appends its compensating row inside tx. The
// original keeps its amount; only its void markers change.
func Reverse(ctx context.Context, tx TxRepository, in ReverseInput, at time.Time) (Movement, error) {
	if err := in.Validate(); err != nil {
		return Movement{}, err
	}
	original, err := tx.GetMovementForUpdate(ctx, in.MovementID)
	if err != nil {
		return Movement{}, err
	}
	if !owns(in.TenantID, original.TenantID) {
		return Movement{}, ErrMovementNotFound
	}
	if original.IsReversal {
		return Movement{}, ErrReversalOfReversal
	}
	if original.Voided {
		return Movement{}, ErrMovementVoided
	}
	reg, err := tx.GetRegisterForUpdate(ctx, original.RegisterID)
	if err != nil {
		return Movement{}, err
	}
	reason := strings.TrimSpace(in.Reason)
	if err := tx.MarkMovementVoided(ctx, original.ID, reason, in.RequestedBy, at); err != nil {
		return Movement{}, err
	}
	originalID := original.ID
	compensating, err := tx.InsertMovement(ctx, Movement{
		TenantID:    reg.TenantID,
		RegisterID:  reg.ID,
		Type:        original.Type.Inverse(),
		Concept:     ConceptReversal,
		Amount:      original.Amount,
		Description: "Reversión: " + reason,
		AuthorID:    in.RequestedBy,
		CreatedAt:   at,
		IsReversal:  true,
		OriginalID:  &originalID,
		CreditID:    original.CreditID,
		PaymentID:   original.PaymentID,
	})
	if err != nil {
		return Movement{}, err
	}
	if _, err := tx.AdjustRegisterBalance(ctx, reg.ID, compensating.Signed()); err != nil {
		return Movement{}, err
	}
	return compensating, nil
}

// Effective returns opening balance plus every counted movement of the register.
func Effective(ctx context.Context, tx TxRepository, reg Register) (decimal.Decimal, error) {
	sum, err := tx.SumEffective(ctx, reg.ID)
	if err != nil {
		return decimal.Zero, err
	}
	return reg.OpeningBalance.Add(sum), nil
}

// owns reports whether a row of owner is visible to tenantID. uuid.Nil means
// the caller is scoped elsewhere.
func owns(tenantID, owner uuid.UUID) bool {
	return tenantID == uuid.Nil || tenantID == owner
}
