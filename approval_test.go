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
	"testing"
	"time"

	"github.com/maintflow/maintflow/internal/apierror"
	"github.com/maintflow/maintflow/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "ACME_INSP_INS-1_PLAN_0A1B2C3D"

func decide(m *Maintflow, member, outcome string) (*model.Approval, error) {
	return decideOn(m, "AP202405140001", member, outcome)
}

func decideOn(m *Maintflow, approvalID, member, outcome string) (*model.Approval, error) {
	return m.DecideApproval(context.Background(), actor(member), approvalID, model.DecisionInput{Outcome: outcome, Comment: "ok by " + member})
}

func TestCreateApproval(t *testing.T) {
	m, ds, _ := newTestMaintflow(t)

	a := mustCreate(t, m, testKey,
		step("user1", model.DecisionApproval),
		step("user2", model.DecisionAgreement),
		step("user3", model.DecisionInfo),
	)

	assert.Equal(t, "AP202405140001", a.ApprovalID)
	assert.Equal(t, model.ApprovalStatusSubmitted, a.Status)
	assert.Equal(t, testNow, a.SubmittedAt)
	assert.Nil(t, a.CompletedAt)
	require.Len(t, a.Steps, 3)
	for i, s := range a.Steps {
		assert.Equal(t, i+1, s.StepNo)
		assert.Nil(t, s.Result)
	}

	inbox := ds.inboxRows()
	require.Len(t, inbox, 3)
	for _, row := range inbox {
		assert.Equal(t, model.InboxTypeSubmitted, row.InboxType)
		assert.False(t, row.IsRead)
	}

	outbox := ds.outboxRows()
	require.Len(t, outbox, 1)
	assert.Equal(t, model.EventSubmitted, outbox[0].EventType)
	assert.Equal(t, model.ApprovalOutboxPending, outbox[0].Status)
	assert.Equal(t, testKey+":SUBMITTED:0", outbox[0].IdempotencyKey)
	assert.Equal(t, testNow, outbox[0].NextAttemptAt)

	var event model.ApprovalEvent
	require.NoError(t, json.Unmarshal(outbox[0].Payload, &event))
	assert.Equal(t, testKey, event.IdempotencyKey)
	assert.Equal(t, model.ApprovalStatusSubmitted, event.Status)
	assert.Equal(t, "author", event.ActorID)
	assert.Len(t, event.Steps, 3)
}

func TestCreateApproval_Idempotent(t *testing.T) {
	m, ds, _ := newTestMaintflow(t)
	first := mustCreate(t, m, testKey, step("user1", model.DecisionApproval))

	again, created, err := m.CreateApproval(context.Background(), actor("author"), createInput(testKey, step("user9", model.DecisionApproval)))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ApprovalID, again.ApprovalID)
	require.Len(t, again.Steps, 1)
	assert.Equal(t, "user1", again.Steps[0].MemberID)

	submitted := 0
	for _, o := range ds.outboxRows() {
		if o.EventType == model.EventSubmitted {
			submitted++
		}
	}
	assert.Equal(t, 1, submitted)
}

func TestCreateApproval_ConcurrentWinnerReturned(t *testing.T) {
	m, ds, _ := newTestMaintflow(t)

	winner := &model.Approval{
		CompanyID:      testCompany,
		ApprovalID:     "AP202405149999",
		Status:         model.ApprovalStatusSubmitted,
		IdempotencyKey: testKey,
	}
	ds.hooks["InsertApproval"] = func(s *fakeState) {
		s.approvals[approvalKey(testCompany, winner.ApprovalID)] = cloneApproval(winner)
		ds.state.approvals[approvalKey(testCompany, winner.ApprovalID)] = cloneApproval(winner)
	}

	a, created, err := m.CreateApproval(context.Background(), actor("author"), createInput(testKey, step("user1", model.DecisionApproval)))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, winner.ApprovalID, a.ApprovalID)
	assert.Empty(t, ds.outboxRows())
}

func TestCreateApproval_Validation(t *testing.T) {
	tests := []struct {
		name   string
		actor  model.Actor
		mutate func(in *model.CreateApprovalInput)
		want   string
	}{
		{name: "missing actor", actor: model.Actor{CompanyID: testCompany}, mutate: func(in *model.CreateApprovalInput) {}, want: "company and member"},
		{name: "missing title", actor: actor("author"), mutate: func(in *model.CreateApprovalInput) { in.Title = "" }, want: "title"},
		{name: "missing callback", actor: actor("author"), mutate: func(in *model.CreateApprovalInput) { in.CallbackURL = "" }, want: "callbackUrl"},
		{name: "bad key format", actor: actor("author"), mutate: func(in *model.CreateApprovalInput) { in.IdempotencyKey = "ACME_INSP_INS-1_PLAN_xyz" }, want: "COMPANY_MODULE"},
		{name: "key of another company", actor: actor("author"), mutate: func(in *model.CreateApprovalInput) { in.IdempotencyKey = "OTHER_INSP_INS-1_PLAN_0A1B2C3D" }, want: "does not match caller company"},
		{name: "unsupported reference", actor: actor("author"), mutate: func(in *model.CreateApprovalInput) { in.RefStage = "ISSUE" }, want: "unsupported reference"},
		{name: "no steps", actor: actor("author"), mutate: func(in *model.CreateApprovalInput) { in.Steps = nil }, want: "steps"},
		{name: "bad decision", actor: actor("author"), mutate: func(in *model.CreateApprovalInput) { in.Steps[0].Decision = "VETO" }, want: "decision"},
		{name: "missing member", actor: actor("author"), mutate: func(in *model.CreateApprovalInput) { in.Steps[0].MemberID = "" }, want: "memberId"},
		{name: "duplicate stepNo", actor: actor("author"), mutate: func(in *model.CreateApprovalInput) { in.Steps[1].StepNo = 1 }, want: "duplicate stepNo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ds, _ := newTestMaintflow(t)
			in := createInput(testKey, step("user1", model.DecisionApproval), step("user2", model.DecisionApproval))
			tt.mutate(&in)

			_, _, err := m.CreateApproval(context.Background(), tt.actor, in)
			require.Error(t, err)
			assert.Equal(t, apierror.ErrInvalidInput, apierror.CodeOf(err))
			assert.Contains(t, err.Error(), tt.want)
			assert.Empty(t, ds.outboxRows())
		})
	}
}

func TestCreateApproval_RollsBackWhenOutboxFails(t *testing.T) {
	m, ds, _ := newTestMaintflow(t)
	ds.failures["InsertOutbox"] = errors.New("disk full")

	_, _, err := m.CreateApproval(context.Background(), actor("author"), createInput(testKey, step("user1", model.DecisionApproval)))
	require.Error(t, err)

	_, err = m.GetApproval(context.Background(), actor("author"), "AP202405140001")
	assert.Equal(t, apierror.ErrNotFound, apierror.CodeOf(err))
	assert.Empty(t, ds.inboxRows())
}

func TestCreateApproval_ExplicitStepNumbersAndSharedMember(t *testing.T) {
	m, ds, _ := newTestMaintflow(t)

	a := mustCreate(t, m, testKey,
		model.StepInput{StepNo: 20, MemberID: "user1", Decision: model.DecisionApproval},
		model.StepInput{StepNo: 10, MemberID: "user2", Decision: model.DecisionApproval},
		model.StepInput{StepNo: 30, MemberID: "user1", Decision: model.DecisionAgreement},
	)
	require.Len(t, a.Steps, 3)
	assert.Equal(t, []int{10, 20, 30}, []int{a.Steps[0].StepNo, a.Steps[1].StepNo, a.Steps[2].StepNo})
	assert.Len(t, ds.inboxRows(), 2)
}

// user2 cannot act before user1, and can once user1 has approved.
func TestDecideApproval_OrderEnforcement(t *testing.T) {
	m, _, _ := newTestMaintflow(t)
	mustCreate(t, m, testKey, step("user1", model.DecisionApproval), step("user2", model.DecisionApproval))

	_, err := decide(m, "user2", model.OutcomeApprove)
	require.Error(t, err)
	assert.Equal(t, apierror.ErrConflict, apierror.CodeOf(err))
	assert.Contains(t, err.Error(), "previous approver must decide first")
	assert.Contains(t, err.Error(), "step 1 (user1)")

	a, err := decide(m, "user1", model.OutcomeApprove)
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalStatusInProgress, a.Status)
	assert.Nil(t, a.CompletedAt)

	a, err = decide(m, "user2", model.OutcomeApprove)
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalStatusApproved, a.Status)
}

func TestDecideApproval_RejectionHalts(t *testing.T) {
	m, ds, _ := newTestMaintflow(t)
	mustCreate(t, m, testKey, step("user1", model.DecisionApproval), step("user2", model.DecisionApproval))

	a, err := decide(m, "user1", model.OutcomeReject)
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalStatusRejected, a.Status)
	require.NotNil(t, a.CompletedAt)
	assert.Equal(t, testNow, *a.CompletedAt)

	_, err = decide(m, "user2", model.OutcomeApprove)
	require.Error(t, err)
	assert.Equal(t, apierror.ErrConflict, apierror.CodeOf(err))
	assert.Contains(t, err.Error(), "halted by earlier rejection")
	assert.Contains(t, err.Error(), "step 1 (user1)")

	outbox := ds.outboxRows()
	require.Len(t, outbox, 2)
	assert.Equal(t, model.EventRejected, outbox[1].EventType)
	assert.Equal(t, testKey+":REJECTED:1", outbox[1].IdempotencyKey)
}

func TestDecideApproval_InfoNeverGates(t *testing.T) {
	m, ds, _ := newTestMaintflow(t)
	mustCreate(t, m, testKey,
		step("user1", model.DecisionApproval),
		step("viewer", model.DecisionInfo),
		step("user2", model.DecisionApproval),
	)

	// INFO can be decided before step 1
	a, err := decide(m, "viewer", model.OutcomeApprove)
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalStatusInProgress, a.Status)

	// an INFO reject never rejects the approval
	mustCreate(t, m, "ACME_INSP_INS-2_PLAN_0A1B2C3E", step("user1", model.DecisionApproval), step("viewer", model.DecisionInfo))
	b, err := decideOn(m, "AP202405140002", "viewer", model.OutcomeReject)
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalStatusInProgress, b.Status)

	// an undecided INFO step does not block step 3
	_, err = decide(m, "user1", model.OutcomeApprove)
	require.NoError(t, err)
	a, err = decide(m, "user2", model.OutcomeApprove)
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalStatusApproved, a.Status)

	for _, row := range ds.inboxRows() {
		if row.ApprovalID == "AP202405140001" && row.MemberID == "viewer" {
			assert.Equal(t, model.InboxTypeCompleted, row.InboxType)
			assert.True(t, row.IsRead)
		}
	}
}

func TestDecideApproval_InfoDoesNotBlockLaterStep(t *testing.T) {
	m, _, _ := newTestMaintflow(t)
	mustCreate(t, m, testKey,
		step("viewer", model.DecisionInfo),
		step("user1", model.DecisionApproval),
	)

	a, err := decide(m, "user1", model.OutcomeApprove)
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalStatusApproved, a.Status)
}

func TestDecideApproval_Completion(t *testing.T) {
	m, ds, clock := newTestMaintflow(t)
	mustCreate(t, m, testKey,
		step("user1", model.DecisionApproval),
		step("user2", model.DecisionAgreement),
	)

	clock.Advance(time.Minute)
	a, err := decide(m, "user1", model.OutcomeApprove)
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalStatusInProgress, a.Status)
	assert.Nil(t, a.CompletedAt)

	clock.Advance(time.Minute)
	a, err = decide(m, "user2", model.OutcomeApprove)
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalStatusApproved, a.Status)
	require.NotNil(t, a.CompletedAt)
	assert.Equal(t, testNow.Add(2*time.Minute), *a.CompletedAt)

	stored, err := m.GetApproval(context.Background(), actor("user1"), a.ApprovalID)
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalStatusApproved, stored.Status)
	assert.True(t, stored.Steps[1].ResultIs(model.StepResultApproved))
	assert.Equal(t, "ok by user2", stored.Steps[1].Comment)

	outbox := ds.outboxRows()
	require.Len(t, outbox, 3)
	assert.Equal(t, []string{model.EventSubmitted, model.EventSubmitted, model.EventApproved},
		[]string{outbox[0].EventType, outbox[1].EventType, outbox[2].EventType})
	assert.Equal(t, testKey+":SUBMITTED:1", outbox[1].IdempotencyKey)
	assert.Equal(t, testKey+":APPROVED:2", outbox[2].IdempotencyKey)

	for _, row := range ds.inboxRows() {
		assert.Equal(t, model.InboxTypeApproved, row.InboxType)
		assert.True(t, row.IsRead)
	}
}

func TestDecideApproval_Errors(t *testing.T) {
	m, _, _ := newTestMaintflow(t)
	mustCreate(t, m, testKey, step("user1", model.DecisionApproval), step("user2", model.DecisionApproval))

	_, err := decide(m, "stranger", model.OutcomeApprove)
	assert.Equal(t, apierror.ErrForbidden, apierror.CodeOf(err))
	assert.Contains(t, err.Error(), "no authority")

	_, err = decide(m, "user1", "MAYBE")
	assert.Equal(t, apierror.ErrInvalidInput, apierror.CodeOf(err))

	_, err = m.DecideApproval(context.Background(), actor("user1"), "AP202405140001", model.DecisionInput{Outcome: model.OutcomeApprove, CompleteAs: "CNCLD"})
	assert.Equal(t, apierror.ErrInvalidInput, apierror.CodeOf(err))

	_, err = decide(m, "user1", model.OutcomeApprove)
	require.NoError(t, err)
	_, err = decide(m, "user1", model.OutcomeApprove)
	assert.Equal(t, apierror.ErrConflict, apierror.CodeOf(err))
	assert.Contains(t, err.Error(), "already decided")

	_, err = decideOn(m, "AP000000000000", "user1", model.OutcomeApprove)
	assert.Equal(t, apierror.ErrNotFound, apierror.CodeOf(err))
}

func TestDecideApproval_MemberWithTwoSteps(t *testing.T) {
	m, _, _ := newTestMaintflow(t)
	mustCreate(t, m, testKey,
		step("user1", model.DecisionApproval),
		step("user2", model.DecisionApproval),
		step("user1", model.DecisionAgreement),
	)

	_, err := decide(m, "user1", model.OutcomeApprove)
	require.NoError(t, err)

	// the next undecided step of user1 is 3, which waits on step 2
	_, err = decide(m, "user1", model.OutcomeApprove)
	assert.Contains(t, err.Error(), "previous approver must decide first")

	_, err = decide(m, "user2", model.OutcomeApprove)
	require.NoError(t, err)
	a, err := decide(m, "user1", model.OutcomeApprove)
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalStatusApproved, a.Status)
}

func TestDecideApproval_TerminalIsImmutable(t *testing.T) {
	m, ds, _ := newTestMaintflow(t)
	mustCreate(t, m, testKey, step("user1", model.DecisionApproval), step("viewer", model.DecisionInfo))

	_, err := decide(m, "user1", model.OutcomeApprove)
	require.NoError(t, err)
	before := len(ds.outboxRows())

	_, err = decide(m, "viewer", model.OutcomeApprove)
	assert.Equal(t, apierror.ErrConflict, apierror.CodeOf(err))
	_, err = m.CancelApproval(context.Background(), actor("author"), "AP202405140001", "")
	assert.Equal(t, apierror.ErrConflict, apierror.CodeOf(err))
	assert.Len(t, ds.outboxRows(), before)
}

func TestCancelApproval(t *testing.T) {
	m, ds, _ := newTestMaintflow(t)
	mustCreate(t, m, testKey, step("user1", model.DecisionApproval), step("user2", model.DecisionApproval))
	_, err := decide(m, "user1", model.OutcomeApprove)
	require.NoError(t, err)

	a, err := m.CancelApproval(context.Background(), actor("author"), "AP202405140001", "plan withdrawn")
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalStatusCancelled, a.Status)
	assert.NotNil(t, a.CompletedAt)

	for _, row := range ds.inboxRows() {
		assert.Equal(t, model.InboxTypeCompleted, row.InboxType)
		assert.True(t, row.IsRead)
	}

	outbox := ds.outboxRows()
	last := outbox[len(outbox)-1]
	assert.Equal(t, model.EventCancelled, last.EventType)
	var event model.ApprovalEvent
	require.NoError(t, json.Unmarshal(last.Payload, &event))
	assert.Equal(t, "plan withdrawn", event.Comment)
	assert.Equal(t, model.ApprovalStatusCancelled, event.Status)

	_, err = m.CancelApproval(context.Background(), actor("author"), "AP202405140001", "")
	assert.Equal(t, apierror.ErrConflict, apierror.CodeOf(err))
}

func TestUpdateApproval(t *testing.T) {
	m, ds, _ := newTestMaintflow(t)
	mustCreate(t, m, testKey, step("user1", model.DecisionApproval))

	a, err := m.UpdateApproval(context.Background(), actor("author"), "AP202405140001", model.UpdateApprovalInput{
		Title:   model.StringPtr("Boiler inspection plan v2"),
		Content: model.StringPtr("adds the feed pump"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Boiler inspection plan v2", a.Title)
	assert.Equal(t, "adds the feed pump", a.Content)
	assert.Len(t, ds.outboxRows(), 1)

	_, err = m.UpdateApproval(context.Background(), actor("author"), "AP202405140001", model.UpdateApprovalInput{Title: model.StringPtr(" ")})
	assert.Equal(t, apierror.ErrInvalidInput, apierror.CodeOf(err))

	_, err = decide(m, "user1", model.OutcomeApprove)
	require.NoError(t, err)
	_, err = m.UpdateApproval(context.Background(), actor("author"), "AP202405140001", model.UpdateApprovalInput{Title: model.StringPtr("late")})
	assert.Equal(t, apierror.ErrConflict, apierror.CodeOf(err))
}

func TestListApprovals(t *testing.T) {
	m, _, _ := newTestMaintflow(t)
	mustCreate(t, m, testKey, step("user1", model.DecisionApproval))
	mustCreate(t, m, "ACME_INSP_INS-2_PLAN_0A1B2C3E", step("user1", model.DecisionApproval))
	_, err := decideOn(m, "AP202405140002", "user1", model.OutcomeApprove)
	require.NoError(t, err)

	all, err := m.ListApprovals(context.Background(), actor("user1"), model.ApprovalFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	approved, err := m.ListApprovals(context.Background(), actor("user1"), model.ApprovalFilter{Status: model.ApprovalStatusApproved})
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, "AP202405140002", approved[0].ApprovalID)

	other, err := m.ListApprovals(context.Background(), model.Actor{CompanyID: "OTHER", MemberID: "x"}, model.ApprovalFilter{})
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestInbox(t *testing.T) {
	m, _, _ := newTestMaintflow(t)
	mustCreate(t, m, testKey, step("user1", model.DecisionApproval), step("user2", model.DecisionApproval))

	rows, err := m.ListInbox(context.Background(), actor("user2"), model.InboxFilter{UnreadOnly: true})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	require.NoError(t, m.MarkInboxRead(context.Background(), actor("user2"), rows[0].InboxID))
	rows, err = m.ListInbox(context.Background(), actor("user2"), model.InboxFilter{UnreadOnly: true})
	require.NoError(t, err)
	assert.Empty(t, rows)

	err = m.MarkInboxRead(context.Background(), actor("user1"), 999)
	assert.Equal(t, apierror.ErrNotFound, apierror.CodeOf(err))

	_, err = m.ListInbox(context.Background(), actor("user1"), model.InboxFilter{InboxType: "NOPE"})
	assert.Equal(t, apierror.ErrInvalidInput, apierror.CodeOf(err))
}
