/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package model

import (
	"strings"

	"github.com/maintflow/maintflow/model"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const maxCommentLength = 1000

type CreateApprovalStep struct {
	StepNo   int    `json:"stepNo"`
	MemberID string `json:"memberId"`
	Decision string `json:"decision"`
}

type CreateApproval struct {
	Title          string               `json:"title"`
	RefEntity      string               `json:"refEntity"`
	RefID          string               `json:"refId"`
	RefStage       string               `json:"refStage"`
	CallbackURL    string               `json:"callbackUrl"`
	IdempotencyKey string               `json:"idempotencyKey"`
	Content        string               `json:"content"`
	Steps          []CreateApprovalStep `json:"steps"`
}

type UpdateApproval struct {
	Title   *string `json:"title"`
	Content *string `json:"content"`
}

type Decision struct {
	Comment    string `json:"comment"`
	CompleteAs string `json:"completeAs"`
}

type CancelApproval struct {
	Comment string `json:"comment"`
}

func (s CreateApprovalStep) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.StepNo, validation.Min(0)),
		validation.Field(&s.MemberID, validation.Required),
		validation.Field(&s.Decision, validation.Required, validation.In(model.DecisionApproval, model.DecisionAgreement, model.DecisionInfo)),
	)
}

func (a *CreateApproval) ValidateCreateApproval() error {
	return validation.ValidateStruct(a,
		validation.Field(&a.Title, validation.Required, validation.Length(1, 200)),
		validation.Field(&a.RefEntity, validation.Required),
		validation.Field(&a.RefID, validation.Required),
		validation.Field(&a.RefStage, validation.Required),
		validation.Field(&a.CallbackURL, validation.Required),
		validation.Field(&a.IdempotencyKey, validation.Required),
		validation.Field(&a.Steps, validation.Required),
	)
}

func (a *CreateApproval) ToCreateApprovalInput() model.CreateApprovalInput {
	steps := make([]model.StepInput, 0, len(a.Steps))
	for _, s := range a.Steps {
		steps = append(steps, model.StepInput{
			StepNo:   s.StepNo,
			MemberID: strings.TrimSpace(s.MemberID),
			Decision: strings.ToUpper(strings.TrimSpace(s.Decision)),
		})
	}
	return model.CreateApprovalInput{
		Title:          strings.TrimSpace(a.Title),
		RefEntity:      strings.TrimSpace(a.RefEntity),
		RefID:          strings.TrimSpace(a.RefID),
		RefStage:       strings.TrimSpace(a.RefStage),
		CallbackURL:    strings.TrimSpace(a.CallbackURL),
		IdempotencyKey: strings.TrimSpace(a.IdempotencyKey),
		Content:        a.Content,
		Steps:          steps,
	}
}

func (u *UpdateApproval) ValidateUpdateApproval() error {
	return validation.ValidateStruct(u,
		validation.Field(&u.Title, validation.NilOrNotEmpty, validation.Length(1, 200)),
	)
}

func (u *UpdateApproval) ToUpdateApprovalInput() model.UpdateApprovalInput {
	return model.UpdateApprovalInput{Title: u.Title, Content: u.Content}
}

func (d *Decision) ValidateDecision() error {
	return validation.ValidateStruct(d,
		validation.Field(&d.Comment, validation.Length(0, maxCommentLength)),
		validation.Field(&d.CompleteAs, validation.In(model.ApprovalStatusApproved)),
	)
}

// ToDecisionInput pairs the body with the outcome implied by the route.
func (d *Decision) ToDecisionInput(outcome string) model.DecisionInput {
	return model.DecisionInput{
		Outcome:    outcome,
		Comment:    d.Comment,
		CompleteAs: d.CompleteAs,
	}
}

func (c *CancelApproval) ValidateCancelApproval() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Comment, validation.Length(0, maxCommentLength)),
	)
}
