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
	"fmt"
	"sort"

	"github.com/maintflow/maintflow/internal/apierror"
	"github.com/maintflow/maintflow/model"
)

// normalizeSteps assigns default step numbers and checks that every step
// number is positive and unique. Steps come back ordered by StepNo.
func normalizeSteps(companyID, approvalID string, in []model.StepInput) ([]model.ApprovalStep, error) {
	seen := make(map[int]bool, len(in))
	steps := make([]model.ApprovalStep, 0, len(in))
	for i, s := range in {
		stepNo := s.StepNo
		if stepNo == 0 {
			stepNo = i + 1
		}
		if stepNo < 0 {
			return nil, apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("step %d: stepNo must be positive", i+1), nil)
		}
		if seen[stepNo] {
			return nil, apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("duplicate stepNo %d", stepNo), nil)
		}
		seen[stepNo] = true
		steps = append(steps, model.ApprovalStep{
			CompanyID:  companyID,
			ApprovalID: approvalID,
			StepNo:     stepNo,
			MemberID:   s.MemberID,
			Decision:   s.Decision,
		})
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].StepNo < steps[j].StepNo })
	return steps, nil
}

// findActorStep returns the index of the lowest-numbered undecided step owned
// by memberID.
func findActorStep(a *model.Approval, memberID string) (int, error) {
	owned := false
	for i, s := range a.Steps {
		if s.MemberID != memberID {
			continue
		}
		owned = true
		if !s.IsDecided() {
			return i, nil
		}
	}
	if !owned {
		return -1, apierror.NewAPIError(apierror.ErrForbidden, fmt.Sprintf("no authority: member %s has no step on approval %s", memberID, a.ApprovalID), nil)
	}
	return -1, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("already decided: member %s has decided every step on approval %s", memberID, a.ApprovalID), nil)
}

// checkOrder enforces sequencing for a non-INFO step: every sequential step
// with a lower number must be decided and not rejected.
func checkOrder(a *model.Approval, step model.ApprovalStep) error {
	if !step.IsSequential() {
		return nil
	}
	for _, prev := range a.Steps {
		if prev.StepNo >= step.StepNo || !prev.IsSequential() {
			continue
		}
		if !prev.IsDecided() {
			return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("previous approver must decide first: step %d (%s) is undecided", prev.StepNo, prev.MemberID), nil)
		}
		if prev.ResultIs(model.StepResultRejected) {
			return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("halted by earlier rejection: step %d (%s) rejected", prev.StepNo, prev.MemberID), nil)
		}
	}
	return nil
}

// deriveStatus computes the approval status after step has been decided with
// outcome.
func deriveStatus(a *model.Approval, step model.ApprovalStep, outcome, completeAs string) string {
	if outcome == model.OutcomeReject && step.IsSequential() {
		return model.ApprovalStatusRejected
	}
	for _, s := range a.Steps {
		if s.IsSequential() && !s.ResultIs(model.StepResultApproved) {
			return model.ApprovalStatusInProgress
		}
	}
	return completeAs
}

// eventForStatus picks the outbox event announcing a decision.
func eventForStatus(status string) string {
	switch status {
	case model.ApprovalStatusApproved:
		return model.EventApproved
	case model.ApprovalStatusRejected:
		return model.EventRejected
	default:
		return model.EventSubmitted
	}
}

// resolveCompleteAs defaults the completion status and rejects anything but
// APPRV.
func resolveCompleteAs(completeAs string) (string, error) {
	if completeAs == "" || completeAs == model.ApprovalStatusApproved {
		return model.ApprovalStatusApproved, nil
	}
	return "", apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("completeAs %q is not a completion status", completeAs), nil)
}
