package model

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

type ActionKey string

const (
	ActionRefreshStatus ActionKey = "REFRESH_STATUS"
	ActionPrintLabelA4  ActionKey = "PRINT_LABEL_A4"
	ActionChangeCargo   ActionKey = "CHANGE_CARGO"
)

var Marketplaces = []interface{}{"trendyol", "hepsiburada", "n11", "pazarama"}

type ActionStatus string

const (
	ActionPending   ActionStatus = "PENDING"
	ActionSucceeded ActionStatus = "SUCCEEDED"
	ActionFailed    ActionStatus = "FAILED"
)

type RefreshStatusParams struct{}

type PrintLabelParams struct {
	ShipmentPackageID string `json:"shipment_package_id"`
}

type ChangeCargoParams struct {
	ShipmentPackageID string `json:"shipment_package_id"`
	CargoProviderCode string `json:"cargo_provider_code"`
}

// ActionParams is a tagged union: exactly the member matching the request's
// ActionKey may be set.
type ActionParams struct {
	RefreshStatus *RefreshStatusParams `json:"refresh_status,omitempty"`
	PrintLabel    *PrintLabelParams    `json:"print_label,omitempty"`
	ChangeCargo   *ChangeCargoParams   `json:"change_cargo,omitempty"`
}

func (p ActionParams) setCount() int {
	n := 0
	if p.RefreshStatus != nil {
		n++
	}
	if p.PrintLabel != nil {
		n++
	}
	if p.ChangeCargo != nil {
		n++
	}
	return n
}

// ActionRequest is what the business layer submits to the action queue.
type ActionRequest struct {
	CompanyID      string       `json:"company_id"`
	Marketplace    string       `json:"marketplace"`
	OrderID        string       `json:"order_id"`
	ActionKey      ActionKey    `json:"action_key"`
	IdempotencyKey string       `json:"idempotency_key"`
	Params         ActionParams `json:"params"`
	ReplayOf       string       `json:"replay_of,omitempty"`
}

func (r *ActionRequest) Normalize() {
	r.Marketplace = strings.ToLower(strings.TrimSpace(r.Marketplace))
	r.ActionKey = ActionKey(strings.ToUpper(strings.TrimSpace(string(r.ActionKey))))
	if r.ActionKey == ActionRefreshStatus && r.Params.RefreshStatus == nil && r.Params.setCount() == 0 {
		r.Params.RefreshStatus = &RefreshStatusParams{}
	}
}

func (r *ActionRequest) Validate() error {
	err := validation.ValidateStruct(r,
		validation.Field(&r.CompanyID, validation.Required),
		validation.Field(&r.Marketplace, validation.Required, validation.In(Marketplaces...)),
		validation.Field(&r.OrderID, validation.Required),
		validation.Field(&r.ActionKey, validation.Required, validation.In(ActionRefreshStatus, ActionPrintLabelA4, ActionChangeCargo)),
		validation.Field(&r.IdempotencyKey, validation.Required, validation.Length(4, 200)),
	)
	if err != nil {
		return err
	}
	return r.Params.validateFor(r.ActionKey)
}

func (p ActionParams) validateFor(key ActionKey) error {
	if p.setCount() != 1 {
		return errors.New("params: exactly one action variant must be set")
	}
	switch key {
	case ActionRefreshStatus:
		if p.RefreshStatus == nil {
			return errors.New("params: refresh_status variant required")
		}
		return nil
	case ActionPrintLabelA4:
		if p.PrintLabel == nil {
			return errors.New("params: print_label variant required")
		}
		return validation.ValidateStruct(p.PrintLabel,
			validation.Field(&p.PrintLabel.ShipmentPackageID, validation.Required),
		)
	case ActionChangeCargo:
		if p.ChangeCargo == nil {
			return errors.New("params: change_cargo variant required")
		}
		return validation.ValidateStruct(p.ChangeCargo,
			validation.Field(&p.ChangeCargo.ShipmentPackageID, validation.Required),
			validation.Field(&p.ChangeCargo.CargoProviderCode, validation.Required),
		)
	}
	return errors.New("params: unknown action key")
}

// FailureEvent is one entry of an ActionAudit's append-only failure history.
type FailureEvent struct {
	Event      string    `json:"event"`
	Error      string    `json:"error,omitempty"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Attempt    int       `json:"attempt,omitempty"`
	Actor      string    `json:"actor,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	TrackingID string    `json:"tracking_id,omitempty"`
	At         time.Time `json:"at"`
}

const (
	FailureEventAttempt = "ATTEMPT_FAILED"
	FailureEventReplay  = "REPLAY"
	FailureEventUnlock  = "UNLOCK"
	FailureEventRequeue = "LEASE_REQUEUE"
)

type ActionAudit struct {
	IdempotencyKey  string          `json:"idempotency_key"`
	CompanyID       string          `json:"company_id"`
	Marketplace     string          `json:"marketplace"`
	ActionKey       ActionKey       `json:"action_key"`
	OrderID         string          `json:"order_id"`
	Status          ActionStatus    `json:"status"`
	RequestPayload  json.RawMessage `json:"request_payload"`
	ResponsePayload json.RawMessage `json:"response_payload,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	FailureHistory  []FailureEvent  `json:"failure_history"`
	Attempts        int             `json:"attempts"`
	ReplayCount     int             `json:"replay_count"`
	LockExpiresAt   *time.Time      `json:"lock_expires_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// LeaseExpired is true when no worker holds the job or its lease has lapsed.
func (a ActionAudit) LeaseExpired(now time.Time) bool {
	return a.LockExpiresAt == nil || !a.LockExpiresAt.After(now)
}

// CurrentTaskID is the queue task id the action last ran under: the tracking
// id of its latest replay, or the idempotency key when it was never replayed.
func (a ActionAudit) CurrentTaskID() string {
	for i := len(a.FailureHistory) - 1; i >= 0; i-- {
		ev := a.FailureHistory[i]
		if ev.Event == FailureEventReplay && ev.TrackingID != "" {
			return ev.TrackingID
		}
	}
	return a.IdempotencyKey
}

// ActionTask is the queue payload. TrackingID equals the asynq task id.
type ActionTask struct {
	TrackingID string        `json:"tracking_id"`
	Request    ActionRequest `json:"request"`
}

// DeadLetterJob is the operator view of an archived action task.
type DeadLetterJob struct {
	TaskID         string         `json:"task_id"`
	Queue          string         `json:"queue"`
	Payload        ActionTask     `json:"payload"`
	LastError      string         `json:"last_error"`
	AttemptsMade   int            `json:"attempts_made"`
	FailedAt       time.Time      `json:"failed_at"`
	Status         ActionStatus   `json:"status,omitempty"`
	FailureHistory []FailureEvent `json:"failure_history,omitempty"`
}

type ReplayRequest struct {
	TaskID          string `json:"task_id"`
	Reason          string `json:"reason"`
	TargetCompanyID string `json:"target_company_id"`
	ActorID         string `json:"actor_id"`
}

type ReplayResult struct {
	TrackingID string `json:"tracking_id"`
	ReplayOf   string `json:"replay_of"`
	Queue      string `json:"queue"`
}

type SubmitResult struct {
	TrackingID string       `json:"tracking_id"`
	Status     ActionStatus `json:"status"`
	Enqueued   bool         `json:"enqueued"`
}

type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
	Completed int    `json:"completed"`
	Processed int    `json:"processed_today"`
	Failed    int    `json:"failed_today"`
	Paused    bool   `json:"paused"`
	ReadOnly  bool   `json:"read_only"`
}
