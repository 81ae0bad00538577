package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event types carried by outbox rows and the X-Approval-Event header.
const (
	EventSubmitted = "SUBMITTED"
	EventApproved  = "APPROVED"
	EventRejected  = "REJECTED"
	EventCancelled = "CANCELLED"
)

// TerminalEvents end an approval. No event for the same approval follows one.
var TerminalEvents = []string{EventApproved, EventRejected, EventCancelled}

// Approval outbox status constants
const (
	ApprovalOutboxPending = "PENDING"
	ApprovalOutboxSent    = "SENT"
	ApprovalOutboxFailed  = "FAILED"
)

// ApprovalOutbox is one delivery intent. It is written in the same
// transaction as the approval change it announces and is never deleted.
type ApprovalOutbox struct {
	OutboxID         int64           `json:"outboxId"`
	CompanyID        string          `json:"companyId"`
	ApprovalID       string          `json:"approvalId"`
	CallbackURL      string          `json:"callbackUrl"`
	IdempotencyKey   string          `json:"idempotencyKey"`
	EventType        string          `json:"eventType"`
	Status           string          `json:"status"`
	Payload          json.RawMessage `json:"payload"`
	RetryCount       int             `json:"retryCount"`
	LastErrorMessage string          `json:"lastErrorMessage,omitempty"`
	LastAttemptAt    *time.Time      `json:"lastAttemptAt,omitempty"`
	NextAttemptAt    time.Time       `json:"nextAttemptAt"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

type OutboxFilter struct {
	Status string
	Limit  int
	Offset int
}

// ApprovalEvent is the JSON body posted to callback URLs.
type ApprovalEvent struct {
	CompanyID      string         `json:"companyId"`
	ApprovalID     string         `json:"approvalId"`
	RefEntity      string         `json:"refEntity"`
	RefID          string         `json:"refId"`
	RefStage       string         `json:"refStage"`
	Status         string         `json:"status"`
	EventType      string         `json:"eventType"`
	OccurredAt     time.Time      `json:"occurredAt"`
	ActorID        string         `json:"actorId"`
	Comment        string         `json:"comment"`
	CallbackURL    string         `json:"callbackUrl"`
	IdempotencyKey string         `json:"idempotencyKey"`
	Steps          []StepSnapshot `json:"steps"`
}

type StepSnapshot struct {
	StepNo    int        `json:"stepNo"`
	MemberID  string     `json:"memberId"`
	Decision  string     `json:"decision"`
	Result    *string    `json:"result"`
	DecidedAt *time.Time `json:"decidedAt"`
	Comment   string     `json:"comment"`
}

// NewApprovalEvent snapshots the approval as it stands after a transition.
func NewApprovalEvent(a *Approval, eventType, actorID, comment string, occurredAt time.Time) ApprovalEvent {
	steps := make([]StepSnapshot, 0, len(a.Steps))
	for _, s := range a.Steps {
		steps = append(steps, StepSnapshot{
			StepNo:    s.StepNo,
			MemberID:  s.MemberID,
			Decision:  s.Decision,
			Result:    s.Result,
			DecidedAt: s.DecidedAt,
			Comment:   s.Comment,
		})
	}
	return ApprovalEvent{
		CompanyID:      a.CompanyID,
		ApprovalID:     a.ApprovalID,
		RefEntity:      a.RefEntity,
		RefID:          a.RefID,
		RefStage:       a.RefStage,
		Status:         a.Status,
		EventType:      eventType,
		OccurredAt:     occurredAt,
		ActorID:        actorID,
		Comment:        comment,
		CallbackURL:    a.CallbackURL,
		IdempotencyKey: a.IdempotencyKey,
		Steps:          steps,
	}
}

// DeliveryKey is the per-transition key sent in X-Approval-Idempotency-Key.
// revision is the number of decided steps when the event was produced.
func DeliveryKey(approvalKey, eventType string, revision int) string {
	return fmt.Sprintf("%s:%s:%d", approvalKey, eventType, revision)
}

// WebhookLog records a single delivery attempt.
type WebhookLog struct {
	ID           int64     `json:"id"`
	OutboxID     int64     `json:"outboxId"`
	URL          string    `json:"url"`
	EventType    string    `json:"eventType"`
	StatusCode   *int      `json:"statusCode,omitempty"`
	ResponseBody string    `json:"responseBody,omitempty"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	AttemptedAt  time.Time `json:"attemptedAt"`
}

// WebhookIdempotency is the receiver-side processed marker.
type WebhookIdempotency struct {
	CompanyID      string    `json:"companyId"`
	IdempotencyKey string    `json:"idempotencyKey"`
	EventType      string    `json:"eventType"`
	ApprovalID     string    `json:"approvalId"`
	ProcessedAt    time.Time `json:"processedAt"`
}
