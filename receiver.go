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
	"errors"
	"fmt"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/maintflow/maintflow/database"
	"github.com/maintflow/maintflow/internal/apierror"
	"github.com/maintflow/maintflow/internal/cache"
	"github.com/maintflow/maintflow/internal/webhook"
	"github.com/maintflow/maintflow/model"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

var errDuplicateDelivery = errors.New("webhook already processed")

// WebhookReceipt reports what the receiver did with a delivery.
type WebhookReceipt struct {
	CompanyID      string `json:"companyId"`
	ApprovalID     string `json:"approvalId"`
	EventType      string `json:"eventType"`
	IdempotencyKey string `json:"idempotencyKey"`
	Duplicate      bool   `json:"duplicate"`
}

func validateEvent(event *model.ApprovalEvent) error {
	return validation.ValidateStruct(event,
		validation.Field(&event.CompanyID, validation.Required),
		validation.Field(&event.ApprovalID, validation.Required),
		validation.Field(&event.RefEntity, validation.Required),
		validation.Field(&event.RefID, validation.Required),
		validation.Field(&event.RefStage, validation.Required),
		validation.Field(&event.EventType, validation.Required,
			validation.In(model.EventSubmitted, model.EventApproved, model.EventRejected, model.EventCancelled)),
	)
}

// ReceiveWebhook verifies, deduplicates and applies one approval webhook.
// Signature problems come back as BAD_REQUEST or UNAUTHORIZED without any
// change. A delivery seen before is acknowledged with Duplicate set.
func (m *Maintflow) ReceiveWebhook(ctx context.Context, header http.Header, body []byte) (*WebhookReceipt, error) {
	ctx, span := tracer.Start(ctx, "ReceiveWebhook")
	defer span.End()

	signature := header.Get(webhook.HeaderSignature)
	if signature == "" {
		return nil, recordError(span, apierror.NewAPIError(apierror.ErrBadRequest, "missing "+webhook.HeaderSignature+" header", nil))
	}
	if !webhook.Verify(m.hmacSecret, body, signature) {
		return nil, recordError(span, apierror.NewAPIError(apierror.ErrUnauthorized, "invalid webhook signature", nil))
	}

	key := header.Get(webhook.HeaderIdempotencyKey)
	if key == "" {
		return nil, recordError(span, apierror.NewAPIError(apierror.ErrBadRequest, "missing "+webhook.HeaderIdempotencyKey+" header", nil))
	}

	var event model.ApprovalEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, recordError(span, apierror.NewAPIError(apierror.ErrBadRequest, "webhook body is not valid JSON", nil))
	}
	if err := validateEvent(&event); err != nil {
		return nil, recordError(span, apierror.NewAPIError(apierror.ErrBadRequest, err.Error(), nil))
	}
	if headerEvent := header.Get(webhook.HeaderEvent); headerEvent != "" && headerEvent != event.EventType {
		return nil, recordError(span, apierror.NewAPIError(apierror.ErrBadRequest,
			fmt.Sprintf("event header %s does not match body %s", headerEvent, event.EventType), nil))
	}

	handler := m.refHandlers.Find(event.RefEntity, event.RefStage)
	if handler == nil {
		return nil, recordError(span, apierror.NewAPIError(apierror.ErrBadRequest,
			fmt.Sprintf("unsupported reference %s/%s", event.RefEntity, event.RefStage), nil))
	}

	span.SetAttributes(
		attribute.String("approval.id", event.ApprovalID),
		attribute.String("webhook.event", event.EventType),
	)
	receipt := &WebhookReceipt{
		CompanyID:      event.CompanyID,
		ApprovalID:     event.ApprovalID,
		EventType:      event.EventType,
		IdempotencyKey: key,
	}
	fields := logrus.Fields{
		"company_id":      event.CompanyID,
		"approval_id":     event.ApprovalID,
		"event_type":      event.EventType,
		"idempotency_key": key,
	}

	seen, err := m.alreadyProcessed(ctx, event.CompanyID, key)
	if err != nil {
		return nil, recordError(span, err)
	}
	if seen {
		logrus.WithFields(fields).Info("duplicate approval webhook ignored")
		receipt.Duplicate = true
		return receipt, nil
	}

	err = m.datasource.WithTx(ctx, func(tx database.Tx) error {
		processed, err := tx.HasWebhookIdempotency(ctx, event.CompanyID, key)
		if err != nil {
			return err
		}
		if processed {
			return errDuplicateDelivery
		}
		stale := false
		if event.EventType == model.EventSubmitted {
			if stale, err = tx.HasTerminalWebhook(ctx, event.CompanyID, event.ApprovalID); err != nil {
				return err
			}
		}
		if stale {
			logrus.WithFields(fields).Info("submitted event arrived after the approval ended, document left as is")
		} else if err := handler.Handle(ctx, tx, event); err != nil {
			return err
		}
		err = tx.InsertWebhookIdempotency(ctx, &model.WebhookIdempotency{
			CompanyID:      event.CompanyID,
			IdempotencyKey: key,
			EventType:      event.EventType,
			ApprovalID:     event.ApprovalID,
			ProcessedAt:    m.clock(),
		})
		if apierror.Is(err, apierror.ErrConflict) {
			return errDuplicateDelivery
		}
		return err
	})
	if errors.Is(err, errDuplicateDelivery) {
		logrus.WithFields(fields).Info("concurrent duplicate approval webhook ignored")
		receipt.Duplicate = true
		return receipt, nil
	}
	if err != nil {
		return nil, recordError(span, err)
	}

	m.rememberProcessed(ctx, event.CompanyID, key, event.EventType)
	logrus.WithFields(fields).Info("approval webhook applied")
	return receipt, nil
}

func (m *Maintflow) alreadyProcessed(ctx context.Context, companyID, key string) (bool, error) {
	if m.cache != nil && m.cache.Exists(ctx, cache.WebhookMarkerKey(companyID, key)) {
		return true, nil
	}
	return m.datasource.HasWebhookIdempotency(ctx, companyID, key)
}

func (m *Maintflow) rememberProcessed(ctx context.Context, companyID, key, eventType string) {
	if m.cache == nil {
		return
	}
	if err := m.cache.Set(ctx, cache.WebhookMarkerKey(companyID, key), eventType, m.markerTTL); err != nil {
		logrus.WithError(err).Warn("failed to cache webhook marker")
	}
}
