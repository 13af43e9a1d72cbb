package credit

import (
	"time"

	"github.com/prenda-erp/prenda-erp/internal/interest"
)

// StatusPolicy holds the day thresholds used by DeriveStatus.
type StatusPolicy struct {
	DueSoonDays    int
	PreAuctionDays int
}

// DefaultStatusPolicy is used when no policy is configured.
func DefaultStatusPolicy() StatusPolicy {
	return StatusPolicy{DueSoonDays: 3, PreAuctionDays: 30}
}

// DeriveStatus computes the live status of c at now. Stored terminal or
// explicit states win; a zero balance is always CANCELADO; otherwise the
// status follows from the due date and the grace period.
func DeriveStatus(c Credit, now time.Time, graceDays int, p StatusPolicy) Status {
	if authoritative[c.Status] {
		return c.Status
	}
	if !c.Balance.IsPositive() {
		return StatusCancelled
	}
	if !now.After(c.DueDate) {
		if interest.DaysBetween(now, c.DueDate) <= p.DueSoonDays {
			return StatusDueSoon
		}
		return StatusCurrent
	}
	overdue := interest.DaysBetween(c.DueDate, now)
	switch {
	case p.PreAuctionDays > 0 && overdue >= p.PreAuctionDays && overdue > graceDays:
		return StatusPreAuction
	case overdue <= graceDays:
		return StatusOverdue
	default:
		return StatusInArrears
	}
}
