package model

import "time"

// Approval status codes.
const (
	ApprovalStatusSubmitted  = "SUBMT"
	ApprovalStatusInProgress = "PROC"
	ApprovalStatusApproved   = "APPRV"
	ApprovalStatusRejected   = "REJCT"
	ApprovalStatusCancelled  = "CNCLD"
)

// Step decision kinds. APPRL and AGREE are sequential, INFO never gates.
const (
	DecisionApproval  = "APPRL"
	DecisionAgreement = "AGREE"
	DecisionInfo      = "INFO"
)

// Step results.
const (
	StepResultApproved = "APPRV"
	StepResultRejected = "REJCT"
)

// Decision outcomes requested by an approver.
const (
	OutcomeApprove = "APPROVE"
	OutcomeReject  = "REJECT"
)

// Actor is the caller on whose behalf an engine operation runs.
type Actor struct {
	CompanyID string `json:"companyId"`
	MemberID  string `json:"memberId"`
}

type Approval struct {
	CompanyID      string         `json:"companyId"`
	ApprovalID     string         `json:"approvalId"`
	Title          string         `json:"title"`
	Status         string         `json:"status"`
	RefEntity      string         `json:"refEntity"`
	RefID          string         `json:"refId"`
	RefStage       string         `json:"refStage"`
	CallbackURL    string         `json:"callbackUrl"`
	IdempotencyKey string         `json:"idempotencyKey"`
	Content        string         `json:"content,omitempty"`
	SubmittedAt    time.Time      `json:"submittedAt"`
	CompletedAt    *time.Time     `json:"completedAt,omitempty"`
	CreatedBy      string         `json:"createdBy"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedBy      string         `json:"updatedBy"`
	UpdatedAt      time.Time      `json:"updatedAt"`
	Steps          []ApprovalStep `json:"steps"`
}

type ApprovalStep struct {
	CompanyID  string     `json:"-"`
	ApprovalID string     `json:"-"`
	StepNo     int        `json:"stepNo"`
	MemberID   string     `json:"memberId"`
	Decision   string     `json:"decision"`
	Result     *string    `json:"result"`
	DecidedAt  *time.Time `json:"decidedAt"`
	Comment    string     `json:"comment,omitempty"`
}

// IsSequential reports whether the step takes part in stepNo ordering.
func (s ApprovalStep) IsSequential() bool {
	return s.Decision == DecisionApproval || s.Decision == DecisionAgreement
}

func (s ApprovalStep) IsDecided() bool {
	return s.Result != nil
}

func (s ApprovalStep) ResultIs(result string) bool {
	return s.Result != nil && *s.Result == result
}

// IsOpen reports whether the approval can still receive decisions or a cancel.
func (a *Approval) IsOpen() bool {
	return a.Status == ApprovalStatusSubmitted || a.Status == ApprovalStatusInProgress
}

// DecidedSteps counts steps that already carry a result.
func (a *Approval) DecidedSteps() int {
	n := 0
	for _, s := range a.Steps {
		if s.IsDecided() {
			n++
		}
	}
	return n
}

// ApprovalFilter narrows List queries. Empty fields are ignored.
type ApprovalFilter struct {
	Status    string
	RefEntity string
	RefID     string
	Limit     int
	Offset    int
}
