package maintflow

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/maintflow/maintflow/database"
	"github.com/maintflow/maintflow/internal/apierror"
	"github.com/maintflow/maintflow/model"
)

// fakeDataSource is an in-memory IDataSource. WithTx works on a copy of the
// state and swaps it in only when fn succeeds.
type fakeDataSource struct {
	mu    sync.Mutex
	state *fakeState

	// hooks run at the start of the named method, inside the lock
	hooks map[string]func(s *fakeState)
	// failures make the named method return the error
	failures map[string]error
}

type fakeState struct {
	approvals    map[string]*model.Approval
	inbox        []model.ApprovalInbox
	outbox       []model.ApprovalOutbox
	logs         []model.WebhookLog
	markers      map[string]model.WebhookIdempotency
	documents    map[string]map[string]*string
	sequences    map[string]int64
	nextInboxID  int64
	nextOutboxID int64
	nextLogID    int64
}

func newFakeDataSource() *fakeDataSource {
	return &fakeDataSource{
		state: &fakeState{
			approvals: map[string]*model.Approval{},
			markers:   map[string]model.WebhookIdempotency{},
			documents: map[string]map[string]*string{},
			sequences: map[string]int64{},
		},
		hooks:    map[string]func(s *fakeState){},
		failures: map[string]error{},
	}
}

func approvalKey(companyID, approvalID string) string {
	return companyID + "/" + approvalID
}

func documentKey(table, companyID, refID string) string {
	return table + "/" + companyID + "/" + refID
}

func cloneApproval(a *model.Approval) *model.Approval {
	c := *a
	c.Steps = append([]model.ApprovalStep(nil), a.Steps...)
	return &c
}

func (s *fakeState) clone() *fakeState {
	c := &fakeState{
		approvals:    make(map[string]*model.Approval, len(s.approvals)),
		inbox:        append([]model.ApprovalInbox(nil), s.inbox...),
		outbox:       append([]model.ApprovalOutbox(nil), s.outbox...),
		logs:         append([]model.WebhookLog(nil), s.logs...),
		markers:      make(map[string]model.WebhookIdempotency, len(s.markers)),
		documents:    make(map[string]map[string]*string, len(s.documents)),
		sequences:    make(map[string]int64, len(s.sequences)),
		nextInboxID:  s.nextInboxID,
		nextOutboxID: s.nextOutboxID,
		nextLogID:    s.nextLogID,
	}
	for k, v := range s.approvals {
		c.approvals[k] = cloneApproval(v)
	}
	for k, v := range s.markers {
		c.markers[k] = v
	}
	for k, doc := range s.documents {
		d := make(map[string]*string, len(doc))
		for col, v := range doc {
			d[col] = v
		}
		c.documents[k] = d
	}
	for k, v := range s.sequences {
		c.sequences[k] = v
	}
	return c
}

func (f *fakeDataSource) enter(method string, s *fakeState) error {
	if hook, ok := f.hooks[method]; ok {
		hook(s)
	}
	return f.failures[method]
}

// seedDocument creates a referenced document with every status column DRAFT
// and every approval column empty.
func (f *fakeDataSource) seedDocument(table, companyID, refID string, columns ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc := map[string]*string{}
	for _, col := range columns {
		if strings.HasSuffix(col, "_approval_id") {
			doc[col] = nil
			continue
		}
		doc[col] = model.StringPtr(DocumentStatusDraft)
	}
	f.state.documents[documentKey(table, companyID, refID)] = doc
}

func (f *fakeDataSource) document(table, companyID, refID string) map[string]*string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.documents[documentKey(table, companyID, refID)]
}

func (f *fakeDataSource) outboxRows() []model.ApprovalOutbox {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.ApprovalOutbox(nil), f.state.outbox...)
}

func (f *fakeDataSource) inboxRows() []model.ApprovalInbox {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.ApprovalInbox(nil), f.state.inbox...)
}

func (f *fakeDataSource) webhookLogs() []model.WebhookLog {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.WebhookLog(nil), f.state.logs...)
}

func (f *fakeDataSource) markerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.state.markers)
}

func (f *fakeDataSource) addOutbox(o model.ApprovalOutbox) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.nextOutboxID++
	o.OutboxID = f.state.nextOutboxID
	f.state.outbox = append(f.state.outbox, o)
	return o.OutboxID
}

func (f *fakeDataSource) WithTx(ctx context.Context, fn func(tx database.Tx) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("WithTx", f.state); err != nil {
		return err
	}
	work := f.state.clone()
	if err := fn(&fakeTx{f: f, s: work}); err != nil {
		return err
	}
	f.state = work
	return nil
}

func (f *fakeDataSource) GetApproval(ctx context.Context, companyID, approvalID string) (*model.Approval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return getApproval(f.state, companyID, approvalID)
}

func getApproval(s *fakeState, companyID, approvalID string) (*model.Approval, error) {
	a, ok := s.approvals[approvalKey(companyID, approvalID)]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("approval with ID '%s' not found", approvalID), nil)
	}
	return cloneApproval(a), nil
}

func getApprovalByKey(s *fakeState, companyID, key string) *model.Approval {
	for _, a := range s.approvals {
		if a.CompanyID == companyID && a.IdempotencyKey == key {
			return cloneApproval(a)
		}
	}
	return nil
}

func (f *fakeDataSource) GetApprovalByIdempotencyKey(ctx context.Context, companyID, key string) (*model.Approval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetApprovalByIdempotencyKey", f.state); err != nil {
		return nil, err
	}
	return getApprovalByKey(f.state, companyID, key), nil
}

func (f *fakeDataSource) ListApprovals(ctx context.Context, companyID string, filter model.ApprovalFilter) ([]model.Approval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Approval
	for _, a := range f.state.approvals {
		if a.CompanyID != companyID {
			continue
		}
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		if filter.RefEntity != "" && a.RefEntity != filter.RefEntity {
			continue
		}
		if filter.RefID != "" && a.RefID != filter.RefID {
			continue
		}
		out = append(out, *cloneApproval(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ApprovalID > out[j].ApprovalID })
	return out, nil
}

func (f *fakeDataSource) ListInbox(ctx context.Context, companyID, memberID string, filter model.InboxFilter) ([]model.ApprovalInbox, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ApprovalInbox
	for _, row := range f.state.inbox {
		if row.CompanyID != companyID || row.MemberID != memberID {
			continue
		}
		if filter.InboxType != "" && row.InboxType != filter.InboxType {
			continue
		}
		if filter.UnreadOnly && row.IsRead {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

func (f *fakeDataSource) MarkInboxRead(ctx context.Context, companyID, memberID string, inboxID int64, readAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, row := range f.state.inbox {
		if row.InboxID == inboxID && row.CompanyID == companyID && row.MemberID == memberID {
			f.state.inbox[i].IsRead = true
			f.state.inbox[i].ReadAt = &readAt
			return nil
		}
	}
	return apierror.NewAPIError(apierror.ErrNotFound, "inbox row not found", nil)
}

func (f *fakeDataSource) FetchDueOutbox(ctx context.Context, now time.Time, batchSize int) ([]model.ApprovalOutbox, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("FetchDueOutbox", f.state); err != nil {
		return nil, err
	}
	var due []model.ApprovalOutbox
	for _, o := range f.state.outbox {
		if o.Status == model.ApprovalOutboxPending && !o.NextAttemptAt.After(now) {
			due = append(due, o)
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		if due[i].CreatedAt.Equal(due[j].CreatedAt) {
			return due[i].OutboxID < due[j].OutboxID
		}
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})
	if len(due) > batchSize {
		due = due[:batchSize]
	}
	return due, nil
}

func (f *fakeDataSource) updateOutbox(id int64, fn func(o *model.ApprovalOutbox)) error {
	for i := range f.state.outbox {
		if f.state.outbox[i].OutboxID == id {
			fn(&f.state.outbox[i])
			return nil
		}
	}
	return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("outbox entry %d not found", id), nil)
}

func (f *fakeDataSource) MarkOutboxSent(ctx context.Context, id int64, attemptedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updateOutbox(id, func(o *model.ApprovalOutbox) {
		o.Status = model.ApprovalOutboxSent
		o.LastErrorMessage = ""
		o.LastAttemptAt = &attemptedAt
	})
}

func (f *fakeDataSource) MarkOutboxRetry(ctx context.Context, id int64, retryCount int, errMsg string, attemptedAt, nextAttemptAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updateOutbox(id, func(o *model.ApprovalOutbox) {
		o.Status = model.ApprovalOutboxPending
		o.RetryCount = retryCount
		o.LastErrorMessage = errMsg
		o.LastAttemptAt = &attemptedAt
		o.NextAttemptAt = nextAttemptAt
	})
}

func (f *fakeDataSource) MarkOutboxFailed(ctx context.Context, id int64, retryCount int, errMsg string, attemptedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updateOutbox(id, func(o *model.ApprovalOutbox) {
		o.Status = model.ApprovalOutboxFailed
		o.RetryCount = retryCount
		o.LastErrorMessage = errMsg
		o.LastAttemptAt = &attemptedAt
	})
}

func (f *fakeDataSource) GetOutbox(ctx context.Context, companyID string, id int64) (*model.ApprovalOutbox, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.state.outbox {
		if o.OutboxID == id && o.CompanyID == companyID {
			c := o
			return &c, nil
		}
	}
	return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("outbox entry %d not found", id), nil)
}

func (f *fakeDataSource) ListOutbox(ctx context.Context, companyID string, filter model.OutboxFilter) ([]model.ApprovalOutbox, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ApprovalOutbox
	for _, o := range f.state.outbox {
		if o.CompanyID != companyID {
			continue
		}
		if filter.Status == "" || o.Status == filter.Status {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeDataSource) RequeueFailedOutbox(ctx context.Context, companyID string, id int64, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.state.outbox {
		o := &f.state.outbox[i]
		if o.OutboxID != id || o.CompanyID != companyID || o.Status != model.ApprovalOutboxFailed {
			continue
		}
		o.Status = model.ApprovalOutboxPending
		o.RetryCount = 0
		o.LastErrorMessage = ""
		o.NextAttemptAt = now
		return nil
	}
	return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("outbox entry %d is not FAILED", id), nil)
}

func (f *fakeDataSource) RecordWebhookLog(ctx context.Context, entry *model.WebhookLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("RecordWebhookLog", f.state); err != nil {
		return err
	}
	f.state.nextLogID++
	entry.ID = f.state.nextLogID
	f.state.logs = append(f.state.logs, *entry)
	return nil
}

func (f *fakeDataSource) ListWebhookLogs(ctx context.Context, companyID string, outboxID int64) ([]model.WebhookLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	owned := false
	for _, o := range f.state.outbox {
		if o.OutboxID == outboxID && o.CompanyID == companyID {
			owned = true
		}
	}
	var out []model.WebhookLog
	for _, l := range f.state.logs {
		if owned && l.OutboxID == outboxID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeDataSource) HasWebhookIdempotency(ctx context.Context, companyID, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.state.markers[approvalKey(companyID, key)]
	return ok, nil
}

func (f *fakeDataSource) NextID(ctx context.Context, companyID, moduleCode, dateKey string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("NextID", f.state); err != nil {
		return 0, err
	}
	k := companyID + "/" + moduleCode + "/" + dateKey
	f.state.sequences[k]++
	return f.state.sequences[k], nil
}

// fakeTx writes into the working copy of a WithTx call. The parent lock is
// held for the whole transaction.
type fakeTx struct {
	f *fakeDataSource
	s *fakeState
}

func (t *fakeTx) GetApprovalForUpdate(ctx context.Context, companyID, approvalID string) (*model.Approval, error) {
	return getApproval(t.s, companyID, approvalID)
}

func (t *fakeTx) GetApprovalByIdempotencyKey(ctx context.Context, companyID, key string) (*model.Approval, error) {
	return getApprovalByKey(t.s, companyID, key), nil
}

func (t *fakeTx) InsertApproval(ctx context.Context, a *model.Approval) error {
	if err := t.f.enter("InsertApproval", t.s); err != nil {
		return err
	}
	if getApprovalByKey(t.s, a.CompanyID, a.IdempotencyKey) != nil {
		return apierror.NewAPIError(apierror.ErrConflict, "approval with this idempotency key already exists", nil)
	}
	c := cloneApproval(a)
	c.Steps = nil
	t.s.approvals[approvalKey(a.CompanyID, a.ApprovalID)] = c
	return nil
}

func (t *fakeTx) UpdateApproval(ctx context.Context, a *model.Approval) error {
	stored, ok := t.s.approvals[approvalKey(a.CompanyID, a.ApprovalID)]
	if !ok {
		return apierror.NewAPIError(apierror.ErrNotFound, "approval not found", nil)
	}
	steps := stored.Steps
	c := cloneApproval(a)
	c.Steps = steps
	t.s.approvals[approvalKey(a.CompanyID, a.ApprovalID)] = c
	return nil
}

func (t *fakeTx) InsertSteps(ctx context.Context, steps []model.ApprovalStep) error {
	for _, s := range steps {
		a, ok := t.s.approvals[approvalKey(s.CompanyID, s.ApprovalID)]
		if !ok {
			return apierror.NewAPIError(apierror.ErrNotFound, "approval not found", nil)
		}
		a.Steps = append(a.Steps, s)
	}
	return nil
}

func (t *fakeTx) UpdateStepDecision(ctx context.Context, step *model.ApprovalStep) error {
	a, ok := t.s.approvals[approvalKey(step.CompanyID, step.ApprovalID)]
	if !ok {
		return apierror.NewAPIError(apierror.ErrNotFound, "approval not found", nil)
	}
	for i := range a.Steps {
		if a.Steps[i].StepNo == step.StepNo {
			a.Steps[i] = *step
			return nil
		}
	}
	return apierror.NewAPIError(apierror.ErrNotFound, "step not found", nil)
}

func (t *fakeTx) InsertInbox(ctx context.Context, rows []model.ApprovalInbox) error {
	for _, row := range rows {
		exists := false
		for _, r := range t.s.inbox {
			if r.CompanyID == row.CompanyID && r.ApprovalID == row.ApprovalID && r.MemberID == row.MemberID {
				exists = true
				break
			}
		}
		if exists {
			continue
		}
		t.s.nextInboxID++
		row.InboxID = t.s.nextInboxID
		t.s.inbox = append(t.s.inbox, row)
	}
	return nil
}

func (t *fakeTx) UpdateInboxForMember(ctx context.Context, companyID, approvalID, memberID, inboxType string, readAt time.Time) error {
	for i := range t.s.inbox {
		r := &t.s.inbox[i]
		if r.CompanyID == companyID && r.ApprovalID == approvalID && r.MemberID == memberID {
			r.InboxType = inboxType
			r.IsRead = true
			r.ReadAt = &readAt
			r.UpdatedAt = readAt
		}
	}
	return nil
}

func (t *fakeTx) CompleteInboxForApproval(ctx context.Context, companyID, approvalID string, readAt time.Time) error {
	for i := range t.s.inbox {
		r := &t.s.inbox[i]
		if r.CompanyID == companyID && r.ApprovalID == approvalID {
			r.InboxType = model.InboxTypeCompleted
			r.IsRead = true
			r.ReadAt = &readAt
			r.UpdatedAt = readAt
		}
	}
	return nil
}

func (t *fakeTx) InsertOutbox(ctx context.Context, o *model.ApprovalOutbox) error {
	if err := t.f.enter("InsertOutbox", t.s); err != nil {
		return err
	}
	t.s.nextOutboxID++
	o.OutboxID = t.s.nextOutboxID
	o.Status = model.ApprovalOutboxPending
	t.s.outbox = append(t.s.outbox, *o)
	return nil
}

func (t *fakeTx) HasWebhookIdempotency(ctx context.Context, companyID, key string) (bool, error) {
	if err := t.f.enter("TxHasWebhookIdempotency", t.s); err != nil {
		return false, err
	}
	_, ok := t.s.markers[approvalKey(companyID, key)]
	return ok, nil
}

func (t *fakeTx) InsertWebhookIdempotency(ctx context.Context, marker *model.WebhookIdempotency) error {
	if err := t.f.enter("InsertWebhookIdempotency", t.s); err != nil {
		return err
	}
	k := approvalKey(marker.CompanyID, marker.IdempotencyKey)
	if _, ok := t.s.markers[k]; ok {
		return apierror.NewAPIError(apierror.ErrConflict, "webhook already processed", nil)
	}
	t.s.markers[k] = *marker
	return nil
}

func (t *fakeTx) UpdateRefDocument(ctx context.Context, u database.RefDocumentUpdate) (int64, error) {
	doc, ok := t.s.documents[documentKey(u.Target.Table, u.CompanyID, u.RefID)]
	if !ok {
		return 0, nil
	}
	if len(u.OnlyFromStatuses) > 0 {
		current := doc[u.Target.StatusColumn]
		allowed := false
		for _, st := range u.OnlyFromStatuses {
			if current != nil && *current == st {
				allowed = true
			}
		}
		if !allowed {
			return 0, nil
		}
	}
	if u.OwnerApprovalID != "" {
		if current := doc[u.Target.ApprovalColumn]; current != nil && *current != u.OwnerApprovalID {
			return 0, nil
		}
	}
	doc[u.Target.StatusColumn] = model.StringPtr(u.Status)
	doc[u.Target.ApprovalColumn] = u.ApprovalID
	return 1, nil
}

func (t *fakeTx) HasTerminalWebhook(ctx context.Context, companyID, approvalID string) (bool, error) {
	for _, marker := range t.s.markers {
		if marker.CompanyID != companyID || marker.ApprovalID != approvalID {
			continue
		}
		for _, eventType := range model.TerminalEvents {
			if marker.EventType == eventType {
				return true, nil
			}
		}
	}
	return false, nil
}

func (t *fakeTx) RefDocumentExists(ctx context.Context, target database.RefDocumentTable, companyID, refID string) (bool, error) {
	_, ok := t.s.documents[documentKey(target.Table, companyID, refID)]
	return ok, nil
}
