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

package maintflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/maintflow/maintflow/database"
	"github.com/maintflow/maintflow/internal/apierror"
	"github.com/maintflow/maintflow/model"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

func recordError(span trace.Span, err error) error {
	span.RecordError(err)
	return err
}

func validateActor(actor model.Actor) error {
	if strings.TrimSpace(actor.CompanyID) == "" || strings.TrimSpace(actor.MemberID) == "" {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "company and member are required", nil)
	}
	return nil
}

func validateCreateInput(in model.CreateApprovalInput) error {
	err := validation.ValidateStruct(&in,
		validation.Field(&in.Title, validation.Required, validation.Length(1, 200)),
		validation.Field(&in.RefEntity, validation.Required),
		validation.Field(&in.RefID, validation.Required),
		validation.Field(&in.RefStage, validation.Required),
		validation.Field(&in.CallbackURL, validation.Required),
		validation.Field(&in.IdempotencyKey, validation.Required),
		validation.Field(&in.Steps, validation.Required, validation.Each(validation.By(func(value interface{}) error {
			s, _ := value.(model.StepInput)
			return validation.ValidateStruct(&s,
				validation.Field(&s.MemberID, validation.Required),
				validation.Field(&s.Decision, validation.Required, validation.In(model.DecisionApproval, model.DecisionAgreement, model.DecisionInfo)),
			)
		}))),
	)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), nil)
	}
	return nil
}

// CreateApproval submits a new approval. When an approval already exists for
// the idempotency key it is returned unchanged and created is false.
func (m *Maintflow) CreateApproval(ctx context.Context, actor model.Actor, in model.CreateApprovalInput) (approval *model.Approval, created bool, err error) {
	ctx, span := tracer.Start(ctx, "CreateApproval")
	defer span.End()

	if err := validateActor(actor); err != nil {
		return nil, false, recordError(span, err)
	}
	if err := validateCreateInput(in); err != nil {
		return nil, false, recordError(span, err)
	}
	if err := model.ValidateIdempotencyKeyFor(in.IdempotencyKey, actor.CompanyID); err != nil {
		return nil, false, recordError(span, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), nil))
	}
	if m.refHandlers.Find(in.RefEntity, in.RefStage) == nil {
		return nil, false, recordError(span, apierror.NewAPIError(apierror.ErrInvalidInput,
			fmt.Sprintf("unsupported reference %s/%s", in.RefEntity, in.RefStage), nil))
	}
	steps, err := normalizeSteps(actor.CompanyID, "", in.Steps)
	if err != nil {
		return nil, false, recordError(span, err)
	}

	existing, err := m.datasource.GetApprovalByIdempotencyKey(ctx, actor.CompanyID, in.IdempotencyKey)
	if err != nil {
		return nil, false, recordError(span, err)
	}
	if existing != nil {
		span.AddEvent("idempotent replay")
		return existing, false, nil
	}

	now := m.clock()
	dateKey := model.DateKey(now)
	seq, err := m.datasource.NextID(ctx, actor.CompanyID, model.ApprovalModuleCode, dateKey)
	if err != nil {
		return nil, false, recordError(span, err)
	}

	a := &model.Approval{
		CompanyID:      actor.CompanyID,
		ApprovalID:     model.FormatApprovalID(dateKey, seq),
		Title:          in.Title,
		Status:         model.ApprovalStatusSubmitted,
		RefEntity:      in.RefEntity,
		RefID:          in.RefID,
		RefStage:       in.RefStage,
		CallbackURL:    in.CallbackURL,
		IdempotencyKey: in.IdempotencyKey,
		Content:        in.Content,
		SubmittedAt:    now,
		CreatedBy:      actor.MemberID,
		CreatedAt:      now,
		UpdatedBy:      actor.MemberID,
		UpdatedAt:      now,
	}
	for i := range steps {
		steps[i].ApprovalID = a.ApprovalID
	}
	a.Steps = steps
	span.SetAttributes(attribute.String("approval.id", a.ApprovalID))

	err = m.datasource.WithTx(ctx, func(tx database.Tx) error {
		if err := tx.InsertApproval(ctx, a); err != nil {
			return err
		}
		if err := tx.InsertSteps(ctx, a.Steps); err != nil {
			return err
		}
		if err := tx.InsertInbox(ctx, inboxRowsFor(a, now)); err != nil {
			return err
		}
		return m.enqueueEvent(ctx, tx, a, model.EventSubmitted, actor.MemberID, "", now)
	})
	if err != nil {
		if apierror.Is(err, apierror.ErrConflict) {
			// a concurrent create with the same key won the insert
			winner, getErr := m.datasource.GetApprovalByIdempotencyKey(ctx, actor.CompanyID, in.IdempotencyKey)
			if getErr == nil && winner != nil {
				return winner, false, nil
			}
		}
		return nil, false, recordError(span, err)
	}

	logrus.WithFields(logrus.Fields{
		"company_id":  a.CompanyID,
		"approval_id": a.ApprovalID,
		"ref":         fmt.Sprintf("%s/%s/%s", a.RefEntity, a.RefID, a.RefStage),
		"steps":       len(a.Steps),
	}).Info("approval submitted")
	return a, true, nil
}

// inboxRowsFor builds one SUBMT inbox row per distinct step member.
func inboxRowsFor(a *model.Approval, now time.Time) []model.ApprovalInbox {
	seen := make(map[string]bool, len(a.Steps))
	rows := make([]model.ApprovalInbox, 0, len(a.Steps))
	for _, s := range a.Steps {
		if seen[s.MemberID] {
			continue
		}
		seen[s.MemberID] = true
		rows = append(rows, model.ApprovalInbox{
			CompanyID:  a.CompanyID,
			ApprovalID: a.ApprovalID,
			MemberID:   s.MemberID,
			InboxType:  model.InboxTypeSubmitted,
			Decision:   s.Decision,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}
	return rows
}

func (m *Maintflow) GetApproval(ctx context.Context, actor model.Actor, approvalID string) (*model.Approval, error) {
	ctx, span := tracer.Start(ctx, "GetApproval")
	defer span.End()

	if err := validateActor(actor); err != nil {
		return nil, recordError(span, err)
	}
	a, err := m.datasource.GetApproval(ctx, actor.CompanyID, approvalID)
	if err != nil {
		return nil, recordError(span, err)
	}
	return a, nil
}

func (m *Maintflow) ListApprovals(ctx context.Context, actor model.Actor, filter model.ApprovalFilter) ([]model.Approval, error) {
	ctx, span := tracer.Start(ctx, "ListApprovals")
	defer span.End()

	if err := validateActor(actor); err != nil {
		return nil, recordError(span, err)
	}
	approvals, err := m.datasource.ListApprovals(ctx, actor.CompanyID, filter)
	if err != nil {
		return nil, recordError(span, err)
	}
	return approvals, nil
}

// UpdateApproval edits the title or content while the approval is still
// untouched by any approver. It does not notify.
func (m *Maintflow) UpdateApproval(ctx context.Context, actor model.Actor, approvalID string, in model.UpdateApprovalInput) (*model.Approval, error) {
	ctx, span := tracer.Start(ctx, "UpdateApproval")
	defer span.End()

	if err := validateActor(actor); err != nil {
		return nil, recordError(span, err)
	}
	if in.Title != nil && strings.TrimSpace(*in.Title) == "" {
		return nil, recordError(span, apierror.NewAPIError(apierror.ErrInvalidInput, "title cannot be empty", nil))
	}

	var updated *model.Approval
	err := m.datasource.WithTx(ctx, func(tx database.Tx) error {
		a, err := tx.GetApprovalForUpdate(ctx, actor.CompanyID, approvalID)
		if err != nil {
			return err
		}
		if a.Status != model.ApprovalStatusSubmitted || a.DecidedSteps() > 0 {
			return apierror.NewAPIError(apierror.ErrConflict,
				fmt.Sprintf("approval %s can no longer be edited (status %s)", a.ApprovalID, a.Status), nil)
		}
		if in.Title != nil {
			a.Title = *in.Title
		}
		if in.Content != nil {
			a.Content = *in.Content
		}
		a.UpdatedBy = actor.MemberID
		a.UpdatedAt = m.clock()
		if err := tx.UpdateApproval(ctx, a); err != nil {
			return err
		}
		updated = a
		return nil
	})
	if err != nil {
		return nil, recordError(span, err)
	}
	return updated, nil
}

// DecideApproval records the actor's decision on their next undecided step
// and advances the approval.
func (m *Maintflow) DecideApproval(ctx context.Context, actor model.Actor, approvalID string, in model.DecisionInput) (*model.Approval, error) {
	ctx, span := tracer.Start(ctx, "DecideApproval")
	defer span.End()
	span.SetAttributes(attribute.String("approval.id", approvalID), attribute.String("approval.outcome", in.Outcome))

	if err := validateActor(actor); err != nil {
		return nil, recordError(span, err)
	}
	if in.Outcome != model.OutcomeApprove && in.Outcome != model.OutcomeReject {
		return nil, recordError(span, apierror.NewAPIError(apierror.ErrInvalidInput,
			fmt.Sprintf("outcome must be %s or %s", model.OutcomeApprove, model.OutcomeReject), nil))
	}
	completeAs, err := resolveCompleteAs(in.CompleteAs)
	if err != nil {
		return nil, recordError(span, err)
	}

	var decided *model.Approval
	err = m.datasource.WithTx(ctx, func(tx database.Tx) error {
		a, err := tx.GetApprovalForUpdate(ctx, actor.CompanyID, approvalID)
		if err != nil {
			return err
		}
		idx, stepErr := findActorStep(a, actor.MemberID)
		if !a.IsOpen() {
			// report the rejection that halted a pending approver
			if stepErr == nil && a.Status == model.ApprovalStatusRejected {
				if err := checkOrder(a, a.Steps[idx]); err != nil {
					return err
				}
			}
			return apierror.NewAPIError(apierror.ErrConflict,
				fmt.Sprintf("approval %s is %s and cannot be decided", a.ApprovalID, a.Status), nil)
		}
		if stepErr != nil {
			return stepErr
		}
		if err := checkOrder(a, a.Steps[idx]); err != nil {
			return err
		}

		now := m.clock()
		step := &a.Steps[idx]
		result := model.StepResultApproved
		if in.Outcome == model.OutcomeReject {
			result = model.StepResultRejected
		}
		step.Result = model.StringPtr(result)
		step.DecidedAt = &now
		step.Comment = in.Comment
		if err := tx.UpdateStepDecision(ctx, step); err != nil {
			return err
		}

		a.Status = deriveStatus(a, *step, in.Outcome, completeAs)
		if a.IsOpen() {
			a.CompletedAt = nil
		} else {
			a.CompletedAt = &now
		}
		a.UpdatedBy = actor.MemberID
		a.UpdatedAt = now
		if err := tx.UpdateApproval(ctx, a); err != nil {
			return err
		}

		inboxType := model.InboxTypeFor(step.Decision, in.Outcome)
		if err := tx.UpdateInboxForMember(ctx, a.CompanyID, a.ApprovalID, actor.MemberID, inboxType, now); err != nil {
			return err
		}
		if err := m.enqueueEvent(ctx, tx, a, eventForStatus(a.Status), actor.MemberID, in.Comment, now); err != nil {
			return err
		}
		decided = a
		return nil
	})
	if err != nil {
		return nil, recordError(span, err)
	}

	logrus.WithFields(logrus.Fields{
		"company_id":  decided.CompanyID,
		"approval_id": decided.ApprovalID,
		"member_id":   actor.MemberID,
		"outcome":     in.Outcome,
		"status":      decided.Status,
	}).Info("approval decided")
	return decided, nil
}

// CancelApproval withdraws an open approval.
func (m *Maintflow) CancelApproval(ctx context.Context, actor model.Actor, approvalID, comment string) (*model.Approval, error) {
	ctx, span := tracer.Start(ctx, "CancelApproval")
	defer span.End()
	span.SetAttributes(attribute.String("approval.id", approvalID))

	if err := validateActor(actor); err != nil {
		return nil, recordError(span, err)
	}

	var cancelled *model.Approval
	err := m.datasource.WithTx(ctx, func(tx database.Tx) error {
		a, err := tx.GetApprovalForUpdate(ctx, actor.CompanyID, approvalID)
		if err != nil {
			return err
		}
		if !a.IsOpen() {
			return apierror.NewAPIError(apierror.ErrConflict,
				fmt.Sprintf("approval %s is %s and cannot be cancelled", a.ApprovalID, a.Status), nil)
		}

		now := m.clock()
		a.Status = model.ApprovalStatusCancelled
		a.CompletedAt = &now
		a.UpdatedBy = actor.MemberID
		a.UpdatedAt = now
		if err := tx.UpdateApproval(ctx, a); err != nil {
			return err
		}
		if err := tx.CompleteInboxForApproval(ctx, a.CompanyID, a.ApprovalID, now); err != nil {
			return err
		}
		if err := m.enqueueEvent(ctx, tx, a, model.EventCancelled, actor.MemberID, comment, now); err != nil {
			return err
		}
		cancelled = a
		return nil
	})
	if err != nil {
		return nil, recordError(span, err)
	}

	logrus.WithFields(logrus.Fields{
		"company_id":  cancelled.CompanyID,
		"approval_id": cancelled.ApprovalID,
		"member_id":   actor.MemberID,
	}).Info("approval cancelled")
	return cancelled, nil
}
