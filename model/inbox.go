package model

import "time"

// Inbox row types.
const (
	InboxTypeSubmitted = "SUBMT"
	InboxTypeApproved  = "APPRV"
	InboxTypeRejected  = "REJCT"
	InboxTypeCompleted = "CMPLT"
)

// ApprovalInbox is the per-member view of an approval. Rows are re-typed,
// never deleted.
type ApprovalInbox struct {
	InboxID    int64      `json:"inboxId"`
	CompanyID  string     `json:"companyId"`
	ApprovalID string     `json:"approvalId"`
	MemberID   string     `json:"memberId"`
	InboxType  string     `json:"inboxType"`
	Decision   string     `json:"decision"`
	IsRead     bool       `json:"isRead"`
	ReadAt     *time.Time `json:"readAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`

	// populated on list reads
	Title  string `json:"title,omitempty"`
	Status string `json:"status,omitempty"`
}

type InboxFilter struct {
	InboxType  string
	UnreadOnly bool
	Limit      int
	Offset     int
}

// InboxTypeFor maps a decided step to the inbox type shown to its member.
func InboxTypeFor(decision, outcome string) string {
	if decision == DecisionInfo {
		return InboxTypeCompleted
	}
	if outcome == OutcomeReject {
		return InboxTypeRejected
	}
	return InboxTypeApproved
}
