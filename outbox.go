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
	"encoding/json"
	"time"

	"github.com/maintflow/maintflow/database"
	"github.com/maintflow/maintflow/internal/apierror"
	"github.com/maintflow/maintflow/model"
	"github.com/sirupsen/logrus"
)

// enqueueEvent writes the outbox row announcing a transition of a. It must
// run inside the transaction that changed a.
func (m *Maintflow) enqueueEvent(ctx context.Context, tx database.Tx, a *model.Approval, eventType, actorID, comment string, at time.Time) error {
	payload, err := json.Marshal(model.NewApprovalEvent(a, eventType, actorID, comment, at))
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to encode approval event", err)
	}

	return tx.InsertOutbox(ctx, &model.ApprovalOutbox{
		CompanyID:      a.CompanyID,
		ApprovalID:     a.ApprovalID,
		CallbackURL:    a.CallbackURL,
		IdempotencyKey: model.DeliveryKey(a.IdempotencyKey, eventType, a.DecidedSteps()),
		EventType:      eventType,
		Status:         model.ApprovalOutboxPending,
		Payload:        payload,
		NextAttemptAt:  at,
		CreatedAt:      at,
		UpdatedAt:      at,
	})
}

// RetryOutbox requeues a FAILED row of the actor's company for immediate
// delivery.
func (m *Maintflow) RetryOutbox(ctx context.Context, actor model.Actor, outboxID int64) (*model.ApprovalOutbox, error) {
	ctx, span := tracer.Start(ctx, "RetryOutbox")
	defer span.End()

	if err := validateActor(actor); err != nil {
		return nil, recordError(span, err)
	}
	if _, err := m.datasource.GetOutbox(ctx, actor.CompanyID, outboxID); err != nil {
		return nil, recordError(span, err)
	}
	if err := m.datasource.RequeueFailedOutbox(ctx, actor.CompanyID, outboxID, m.clock()); err != nil {
		return nil, recordError(span, err)
	}
	logrus.WithFields(logrus.Fields{
		"outbox_id":  outboxID,
		"company_id": actor.CompanyID,
		"member_id":  actor.MemberID,
	}).Info("approval outbox entry requeued")

	entry, err := m.datasource.GetOutbox(ctx, actor.CompanyID, outboxID)
	if err != nil {
		return nil, recordError(span, err)
	}
	return entry, nil
}

func (m *Maintflow) GetOutbox(ctx context.Context, actor model.Actor, outboxID int64) (*model.ApprovalOutbox, error) {
	if err := validateActor(actor); err != nil {
		return nil, err
	}
	return m.datasource.GetOutbox(ctx, actor.CompanyID, outboxID)
}

func (m *Maintflow) ListOutbox(ctx context.Context, actor model.Actor, filter model.OutboxFilter) ([]model.ApprovalOutbox, error) {
	if err := validateActor(actor); err != nil {
		return nil, err
	}
	switch filter.Status {
	case "", model.ApprovalOutboxPending, model.ApprovalOutboxSent, model.ApprovalOutboxFailed:
	default:
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "status must be PENDING, SENT or FAILED", nil)
	}
	return m.datasource.ListOutbox(ctx, actor.CompanyID, filter)
}

// ListWebhookLogs returns every delivery attempt recorded for the row.
func (m *Maintflow) ListWebhookLogs(ctx context.Context, actor model.Actor, outboxID int64) ([]model.WebhookLog, error) {
	if err := validateActor(actor); err != nil {
		return nil, err
	}
	if _, err := m.datasource.GetOutbox(ctx, actor.CompanyID, outboxID); err != nil {
		return nil, err
	}
	return m.datasource.ListWebhookLogs(ctx, actor.CompanyID, outboxID)
}
