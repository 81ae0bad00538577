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
	"sync"

	"github.com/maintflow/maintflow/database"
	"github.com/maintflow/maintflow/internal/apierror"
	"github.com/maintflow/maintflow/model"
	"github.com/sirupsen/logrus"
)

// Reference entities and their approval stages.
const (
	RefEntityInspection = "INSPECTION"
	RefEntityWorkOrder  = "WORKORDER"
	RefEntityWorkPermit = "WORKPERMIT"

	RefStagePlan   = "PLAN"
	RefStageResult = "RESULT"
	RefStageIssue  = "ISSUE"
	RefStageClose  = "CLOSE"
)

// Statuses a referenced document moves through as approval events arrive.
const (
	DocumentStatusDraft     = "DRAFT"
	DocumentStatusSubmitted = "SUBMT"
	DocumentStatusApproved  = "APPRV"
	DocumentStatusRejected  = "REJCT"
)

// RefHandler applies approval events to the document an approval refers to.
type RefHandler interface {
	Supports(refEntity, refStage string) bool
	Handle(ctx context.Context, tx database.Tx, event model.ApprovalEvent) error
}

// RefHandlerRegistry finds the handler for a (refEntity, refStage) pair.
type RefHandlerRegistry struct {
	mu       sync.RWMutex
	handlers []RefHandler
}

func NewRefHandlerRegistry(handlers ...RefHandler) *RefHandlerRegistry {
	return &RefHandlerRegistry{handlers: handlers}
}

func (r *RefHandlerRegistry) Register(h RefHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, h)
}

// Find returns the first handler supporting the pair, or nil.
func (r *RefHandlerRegistry) Find(refEntity, refStage string) RefHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, h := range r.handlers {
		if h.Supports(refEntity, refStage) {
			return h
		}
	}
	return nil
}

// DefaultRefHandlers covers inspections, work orders and work permits.
func DefaultRefHandlers() *RefHandlerRegistry {
	return NewRefHandlerRegistry(
		NewDocumentRefHandler(RefEntityInspection, map[string]database.RefDocumentTable{
			RefStagePlan:   {Table: "inspections", IDColumn: "inspection_id", StatusColumn: "plan_status", ApprovalColumn: "plan_approval_id"},
			RefStageResult: {Table: "inspections", IDColumn: "inspection_id", StatusColumn: "result_status", ApprovalColumn: "result_approval_id"},
		}),
		NewDocumentRefHandler(RefEntityWorkOrder, map[string]database.RefDocumentTable{
			RefStagePlan:   {Table: "work_orders", IDColumn: "work_order_id", StatusColumn: "plan_status", ApprovalColumn: "plan_approval_id"},
			RefStageResult: {Table: "work_orders", IDColumn: "work_order_id", StatusColumn: "result_status", ApprovalColumn: "result_approval_id"},
		}),
		NewDocumentRefHandler(RefEntityWorkPermit, map[string]database.RefDocumentTable{
			RefStageIssue: {Table: "work_permits", IDColumn: "work_permit_id", StatusColumn: "issue_status", ApprovalColumn: "issue_approval_id"},
			RefStageClose: {Table: "work_permits", IDColumn: "work_permit_id", StatusColumn: "close_status", ApprovalColumn: "close_approval_id"},
		}),
	)
}

// DocumentRefHandler maps each stage of one entity to the status and
// approval columns of its table.
type DocumentRefHandler struct {
	entity string
	stages map[string]database.RefDocumentTable
}

func NewDocumentRefHandler(entity string, stages map[string]database.RefDocumentTable) *DocumentRefHandler {
	return &DocumentRefHandler{entity: entity, stages: stages}
}

func (h *DocumentRefHandler) Supports(refEntity, refStage string) bool {
	if refEntity != h.entity {
		return false
	}
	_, ok := h.stages[refStage]
	return ok
}

// Handle moves the document. A SUBMITTED event only touches a document that
// is still DRAFT or SUBMT, and no event touches a document that references
// another approval. Such events are ignored.
func (h *DocumentRefHandler) Handle(ctx context.Context, tx database.Tx, event model.ApprovalEvent) error {
	target, ok := h.stages[event.RefStage]
	if !ok || event.RefEntity != h.entity {
		return apierror.NewAPIError(apierror.ErrInvalidInput,
			fmt.Sprintf("unsupported reference %s/%s", event.RefEntity, event.RefStage), nil)
	}

	update, err := documentUpdateFor(target, event)
	if err != nil {
		return err
	}

	rows, err := tx.UpdateRefDocument(ctx, update)
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}
	exists, err := tx.RefDocumentExists(ctx, target, event.CompanyID, event.RefID)
	if err != nil {
		return err
	}
	if !exists {
		return apierror.NewAPIError(apierror.ErrNotFound,
			fmt.Sprintf("%s %s not found", event.RefEntity, event.RefID), nil)
	}
	logrus.WithFields(logrus.Fields{
		"ref_entity":  event.RefEntity,
		"ref_id":      event.RefID,
		"ref_stage":   event.RefStage,
		"approval_id": event.ApprovalID,
		"event_type":  event.EventType,
	}).Info("stale approval event ignored, document moved on")
	return nil
}

func documentUpdateFor(target database.RefDocumentTable, event model.ApprovalEvent) (database.RefDocumentUpdate, error) {
	update := database.RefDocumentUpdate{
		Target:     target,
		CompanyID:  event.CompanyID,
		RefID:      event.RefID,
		ApprovalID: model.StringPtr(event.ApprovalID),

		OwnerApprovalID: event.ApprovalID,
	}
	switch event.EventType {
	case model.EventApproved:
		update.Status = DocumentStatusApproved
	case model.EventRejected:
		update.Status = DocumentStatusRejected
	case model.EventCancelled:
		update.Status = DocumentStatusDraft
		update.ApprovalID = nil
	case model.EventSubmitted:
		update.Status = DocumentStatusSubmitted
		update.OnlyFromStatuses = []string{DocumentStatusDraft, DocumentStatusSubmitted}
	default:
		return update, apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("unknown event type %q", event.EventType), nil)
	}
	return update, nil
}
