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
package mocks

import (
	"context"
	"time"

	"github.com/maintflow/maintflow/database"
	"github.com/maintflow/maintflow/model"
	"github.com/stretchr/testify/mock"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

// Approval methods

func (m *MockDataSource) GetApproval(ctx context.Context, companyID, approvalID string) (*model.Approval, error) {
	args := m.Called(ctx, companyID, approvalID)
	a, _ := args.Get(0).(*model.Approval)
	return a, args.Error(1)
}

func (m *MockDataSource) GetApprovalByIdempotencyKey(ctx context.Context, companyID, key string) (*model.Approval, error) {
	args := m.Called(ctx, companyID, key)
	a, _ := args.Get(0).(*model.Approval)
	return a, args.Error(1)
}

func (m *MockDataSource) ListApprovals(ctx context.Context, companyID string, filter model.ApprovalFilter) ([]model.Approval, error) {
	args := m.Called(ctx, companyID, filter)
	a, _ := args.Get(0).([]model.Approval)
	return a, args.Error(1)
}

// Inbox methods

func (m *MockDataSource) ListInbox(ctx context.Context, companyID, memberID string, filter model.InboxFilter) ([]model.ApprovalInbox, error) {
	args := m.Called(ctx, companyID, memberID, filter)
	items, _ := args.Get(0).([]model.ApprovalInbox)
	return items, args.Error(1)
}

func (m *MockDataSource) MarkInboxRead(ctx context.Context, companyID, memberID string, inboxID int64, readAt time.Time) error {
	args := m.Called(ctx, companyID, memberID, inboxID, readAt)
	return args.Error(0)
}

// Outbox methods

func (m *MockDataSource) FetchDueOutbox(ctx context.Context, now time.Time, batchSize int) ([]model.ApprovalOutbox, error) {
	args := m.Called(ctx, now, batchSize)
	entries, _ := args.Get(0).([]model.ApprovalOutbox)
	return entries, args.Error(1)
}

func (m *MockDataSource) MarkOutboxSent(ctx context.Context, id int64, attemptedAt time.Time) error {
	args := m.Called(ctx, id, attemptedAt)
	return args.Error(0)
}

func (m *MockDataSource) MarkOutboxRetry(ctx context.Context, id int64, retryCount int, errMsg string, attemptedAt, nextAttemptAt time.Time) error {
	args := m.Called(ctx, id, retryCount, errMsg, attemptedAt, nextAttemptAt)
	return args.Error(0)
}

func (m *MockDataSource) MarkOutboxFailed(ctx context.Context, id int64, retryCount int, errMsg string, attemptedAt time.Time) error {
	args := m.Called(ctx, id, retryCount, errMsg, attemptedAt)
	return args.Error(0)
}

func (m *MockDataSource) GetOutbox(ctx context.Context, companyID string, id int64) (*model.ApprovalOutbox, error) {
	args := m.Called(ctx, companyID, id)
	entry, _ := args.Get(0).(*model.ApprovalOutbox)
	return entry, args.Error(1)
}

func (m *MockDataSource) ListOutbox(ctx context.Context, companyID string, filter model.OutboxFilter) ([]model.ApprovalOutbox, error) {
	args := m.Called(ctx, companyID, filter)
	entries, _ := args.Get(0).([]model.ApprovalOutbox)
	return entries, args.Error(1)
}

func (m *MockDataSource) RequeueFailedOutbox(ctx context.Context, companyID string, id int64, now time.Time) error {
	args := m.Called(ctx, companyID, id, now)
	return args.Error(0)
}

// Webhook log methods

func (m *MockDataSource) RecordWebhookLog(ctx context.Context, entry *model.WebhookLog) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockDataSource) ListWebhookLogs(ctx context.Context, companyID string, outboxID int64) ([]model.WebhookLog, error) {
	args := m.Called(ctx, companyID, outboxID)
	logs, _ := args.Get(0).([]model.WebhookLog)
	return logs, args.Error(1)
}

// Idempotency and sequence methods

func (m *MockDataSource) HasWebhookIdempotency(ctx context.Context, companyID, key string) (bool, error) {
	args := m.Called(ctx, companyID, key)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) NextID(ctx context.Context, companyID, moduleCode, dateKey string) (int64, error) {
	args := m.Called(ctx, companyID, moduleCode, dateKey)
	next, _ := args.Get(0).(int64)
	return next, args.Error(1)
}

// WithTx hands the registered Tx (argument 0 of the expectation) to fn.
func (m *MockDataSource) WithTx(ctx context.Context, fn func(tx database.Tx) error) error {
	args := m.Called(ctx)
	if err := args.Error(1); err != nil {
		return err
	}
	tx, _ := args.Get(0).(database.Tx)
	return fn(tx)
}

// MockTx is a mock implementation of the Tx interface
type MockTx struct {
	mock.Mock
}

func (m *MockTx) GetApprovalForUpdate(ctx context.Context, companyID, approvalID string) (*model.Approval, error) {
	args := m.Called(ctx, companyID, approvalID)
	approval, _ := args.Get(0).(*model.Approval)
	return approval, args.Error(1)
}

func (m *MockTx) GetApprovalByIdempotencyKey(ctx context.Context, companyID, key string) (*model.Approval, error) {
	args := m.Called(ctx, companyID, key)
	approval, _ := args.Get(0).(*model.Approval)
	return approval, args.Error(1)
}

func (m *MockTx) InsertApproval(ctx context.Context, a *model.Approval) error {
	args := m.Called(ctx, a)
	return args.Error(0)
}

func (m *MockTx) UpdateApproval(ctx context.Context, a *model.Approval) error {
	args := m.Called(ctx, a)
	return args.Error(0)
}

func (m *MockTx) InsertSteps(ctx context.Context, steps []model.ApprovalStep) error {
	args := m.Called(ctx, steps)
	return args.Error(0)
}

func (m *MockTx) UpdateStepDecision(ctx context.Context, step *model.ApprovalStep) error {
	args := m.Called(ctx, step)
	return args.Error(0)
}

func (m *MockTx) InsertInbox(ctx context.Context, rows []model.ApprovalInbox) error {
	args := m.Called(ctx, rows)
	return args.Error(0)
}

func (m *MockTx) UpdateInboxForMember(ctx context.Context, companyID, approvalID, memberID, inboxType string, readAt time.Time) error {
	args := m.Called(ctx, companyID, approvalID, memberID, inboxType, readAt)
	return args.Error(0)
}

func (m *MockTx) CompleteInboxForApproval(ctx context.Context, companyID, approvalID string, readAt time.Time) error {
	args := m.Called(ctx, companyID, approvalID, readAt)
	return args.Error(0)
}

func (m *MockTx) InsertOutbox(ctx context.Context, o *model.ApprovalOutbox) error {
	args := m.Called(ctx, o)
	return args.Error(0)
}

func (m *MockTx) HasWebhookIdempotency(ctx context.Context, companyID, key string) (bool, error) {
	args := m.Called(ctx, companyID, key)
	return args.Bool(0), args.Error(1)
}

func (m *MockTx) InsertWebhookIdempotency(ctx context.Context, marker *model.WebhookIdempotency) error {
	args := m.Called(ctx, marker)
	return args.Error(0)
}

func (m *MockTx) HasTerminalWebhook(ctx context.Context, companyID, approvalID string) (bool, error) {
	args := m.Called(ctx, companyID, approvalID)
	return args.Bool(0), args.Error(1)
}

func (m *MockTx) RefDocumentExists(ctx context.Context, target database.RefDocumentTable, companyID, refID string) (bool, error) {
	args := m.Called(ctx, target, companyID, refID)
	return args.Bool(0), args.Error(1)
}

func (m *MockTx) UpdateRefDocument(ctx context.Context, update database.RefDocumentUpdate) (int64, error) {
	args := m.Called(ctx, update)
	return args.Get(0).(int64), args.Error(1)
}
