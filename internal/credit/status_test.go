package credit

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestDeriveStatus(t *testing.T) {
	due := time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC)
	policy := DefaultStatusPolicy()
	open := Credit{Balance: decimal.NewFromInt(300), DueDate: due, Status: StatusCurrent}

	cases := []struct {
		name   string
		credit Credit
		now    time.Time
		want   Status
	}{
		{"well before due", open, due.AddDate(0, 0, -10), StatusCurrent},
		{"due soon", open, due.AddDate(0, 0, -2), StatusDueSoon},
		{"due today before cutoff", open, due.Add(-time.Hour), StatusDueSoon},
		{"overdue within grace", open, due.AddDate(0, 0, 2), StatusOverdue},
		{"in arrears", open, due.AddDate(0, 0, 4), StatusInArrears},
		{"pre auction", open, due.AddDate(0, 0, 30), StatusPreAuction},
		{"zero balance", Credit{Balance: decimal.Zero, DueDate: due, Status: StatusCurrent}, due.AddDate(0, 0, 90), StatusCancelled},
		{"stored auction wins", Credit{Balance: decimal.NewFromInt(1), DueDate: due, Status: StatusInAuction}, due.AddDate(0, 0, -10), StatusInAuction},
		{"stored annulled wins", Credit{Balance: decimal.NewFromInt(1), DueDate: due, Status: StatusAnnulled}, due, StatusAnnulled},
		{"issued derives", Credit{Balance: decimal.NewFromInt(1), DueDate: due, Status: StatusIssued}, due.AddDate(0, 0, -20), StatusCurrent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DeriveStatus(tc.credit, tc.now, 3, policy))
		})
	}
}

func TestParseOperation(t *testing.T) {
	op, err := ParseOperation("desempeño")
	assert.NoError(t, err)
	assert.Equal(t, OperationRedemption, op)
	_, err = ParseOperation("REFINANCIAR")
	assert.Error(t, err)
}
