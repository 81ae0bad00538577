package model

// StepInput is one requested approver slot. A zero StepNo takes the 1-based
// position of the step in the request.
type StepInput struct {
	StepNo   int    `json:"stepNo,omitempty"`
	MemberID string `json:"memberId"`
	Decision string `json:"decision"`
}

type CreateApprovalInput struct {
	Title          string      `json:"title"`
	RefEntity      string      `json:"refEntity"`
	RefID          string      `json:"refId"`
	RefStage       string      `json:"refStage"`
	CallbackURL    string      `json:"callbackUrl"`
	IdempotencyKey string      `json:"idempotencyKey"`
	Content        string      `json:"content,omitempty"`
	Steps          []StepInput `json:"steps"`
}

// DecisionInput carries an approver's decision. CompleteAs is the status the
// approval takes once every sequential step is approved; empty means APPRV.
type DecisionInput struct {
	Outcome    string `json:"outcome"`
	Comment    string `json:"comment,omitempty"`
	CompleteAs string `json:"completeAs,omitempty"`
}

// UpdateApprovalInput edits header fields. Nil fields are left unchanged.
type UpdateApprovalInput struct {
	Title   *string `json:"title,omitempty"`
	Content *string `json:"content,omitempty"`
}
