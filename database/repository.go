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

package database

import (
	"context"
	"time"

	"github.com/maintflow/maintflow/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	approval    // Interface for approval reads
	inbox       // Interface for per-member inbox operations
	outbox      // Interface for outbox delivery bookkeeping
	webhookLog  // Interface for the webhook audit log
	idempotency // Interface for receiver-side processed markers
	sequence    // Interface for id allocation

	// WithTx runs fn inside one database transaction. The transaction is
	// committed when fn returns nil and rolled back otherwise.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// approval defines read methods for approvals and their steps.
type approval interface {
	// GetApproval returns NOT_FOUND when the approval does not exist.
	GetApproval(ctx context.Context, companyID, approvalID string) (*model.Approval, error)
	// GetApprovalByIdempotencyKey returns nil, nil when no approval carries key.
	GetApprovalByIdempotencyKey(ctx context.Context, companyID, key string) (*model.Approval, error)
	ListApprovals(ctx context.Context, companyID string, filter model.ApprovalFilter) ([]model.Approval, error)
}

// inbox defines methods for the per-member inbox.
type inbox interface {
	ListInbox(ctx context.Context, companyID, memberID string, filter model.InboxFilter) ([]model.ApprovalInbox, error)
	MarkInboxRead(ctx context.Context, companyID, memberID string, inboxID int64, readAt time.Time) error
}

// outbox defines the dispatcher and monitoring methods for outbox rows.
type outbox interface {
	FetchDueOutbox(ctx context.Context, now time.Time, batchSize int) ([]model.ApprovalOutbox, error)
	MarkOutboxSent(ctx context.Context, id int64, attemptedAt time.Time) error
	MarkOutboxRetry(ctx context.Context, id int64, retryCount int, errMsg string, attemptedAt, nextAttemptAt time.Time) error
	MarkOutboxFailed(ctx context.Context, id int64, retryCount int, errMsg string, attemptedAt time.Time) error
	GetOutbox(ctx context.Context, companyID string, id int64) (*model.ApprovalOutbox, error)
	ListOutbox(ctx context.Context, companyID string, filter model.OutboxFilter) ([]model.ApprovalOutbox, error)
	RequeueFailedOutbox(ctx context.Context, companyID string, id int64, now time.Time) error
}

// webhookLog defines methods for the delivery attempt log.
type webhookLog interface {
	RecordWebhookLog(ctx context.Context, entry *model.WebhookLog) error
	ListWebhookLogs(ctx context.Context, companyID string, outboxID int64) ([]model.WebhookLog, error)
}

// idempotency defines read access to receiver markers outside a transaction.
type idempotency interface {
	HasWebhookIdempotency(ctx context.Context, companyID, key string) (bool, error)
}

// sequence allocates ids in its own short transaction.
type sequence interface {
	NextID(ctx context.Context, companyID, moduleCode, dateKey string) (int64, error)
}

// Tx is the set of writes that must commit together with an approval change
// or a received webhook.
type Tx interface {
	GetApprovalForUpdate(ctx context.Context, companyID, approvalID string) (*model.Approval, error)
	GetApprovalByIdempotencyKey(ctx context.Context, companyID, key string) (*model.Approval, error)
	InsertApproval(ctx context.Context, a *model.Approval) error
	UpdateApproval(ctx context.Context, a *model.Approval) error
	InsertSteps(ctx context.Context, steps []model.ApprovalStep) error
	UpdateStepDecision(ctx context.Context, step *model.ApprovalStep) error

	InsertInbox(ctx context.Context, rows []model.ApprovalInbox) error
	UpdateInboxForMember(ctx context.Context, companyID, approvalID, memberID, inboxType string, readAt time.Time) error
	CompleteInboxForApproval(ctx context.Context, companyID, approvalID string, readAt time.Time) error

	InsertOutbox(ctx context.Context, o *model.ApprovalOutbox) error

	HasWebhookIdempotency(ctx context.Context, companyID, key string) (bool, error)
	InsertWebhookIdempotency(ctx context.Context, marker *model.WebhookIdempotency) error
	// HasTerminalWebhook reports whether a decision or cancellation of the
	// approval was already applied.
	HasTerminalWebhook(ctx context.Context, companyID, approvalID string) (bool, error)
	UpdateRefDocument(ctx context.Context, update RefDocumentUpdate) (int64, error)
	RefDocumentExists(ctx context.Context, target RefDocumentTable, companyID, refID string) (bool, error)
}
