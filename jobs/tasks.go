package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/prenda-erp/prenda-erp/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskReconcile runs the cash register reconciliation for a day and the trailing window.
	TaskReconcile = "caja:reconcile"
	// TaskMora re-evaluates status and penalty interest of every open credit.
	TaskMora = "credito:mora"

	dateLayout = "2006-01-02"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// ReconcilePayload configures a reconciliation run. An empty Date means the
// previous day.
type ReconcilePayload struct {
	Date       string `json:"date,omitempty"`
	WindowDays int    `json:"window_days,omitempty"`
}

// MoraPayload configures a mora evaluation run. An empty Date means today.
type MoraPayload struct {
	Date string `json:"date,omitempty"`
}

// NewReconcileTask constructs the reconciliation task.
func NewReconcileTask(payload ReconcilePayload) (*asynq.Task, error) {
	if payload.Date != "" {
		if _, err := time.Parse(dateLayout, payload.Date); err != nil {
			return nil, fmt.Errorf("reconcile task: invalid date %q", payload.Date)
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReconcile, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}

// NewMoraTask constructs the mora evaluation task.
func NewMoraTask(payload MoraPayload) (*asynq.Task, error) {
	if payload.Date != "" {
		if _, err := time.Parse(dateLayout, payload.Date); err != nil {
			return nil, fmt.Errorf("mora task: invalid date %q", payload.Date)
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskMora, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}

// NewTask builds a task by its type name with an optional date.
func NewTask(name, date string) (*asynq.Task, error) {
	switch name {
	case TaskReconcile:
		return NewReconcileTask(ReconcilePayload{Date: date})
	case TaskMora:
		return NewMoraTask(MoraPayload{Date: date})
	default:
		return nil, fmt.Errorf("unknown task %q", name)
	}
}
