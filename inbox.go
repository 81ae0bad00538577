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

	"github.com/maintflow/maintflow/internal/apierror"
	"github.com/maintflow/maintflow/model"
)

// ListInbox returns the actor's inbox, newest first.
func (m *Maintflow) ListInbox(ctx context.Context, actor model.Actor, filter model.InboxFilter) ([]model.ApprovalInbox, error) {
	if err := validateActor(actor); err != nil {
		return nil, err
	}
	switch filter.InboxType {
	case "", model.InboxTypeSubmitted, model.InboxTypeApproved, model.InboxTypeRejected, model.InboxTypeCompleted:
	default:
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "unknown inbox type "+filter.InboxType, nil)
	}
	return m.datasource.ListInbox(ctx, actor.CompanyID, actor.MemberID, filter)
}

// MarkInboxRead flags one of the actor's own inbox rows as read.
func (m *Maintflow) MarkInboxRead(ctx context.Context, actor model.Actor, inboxID int64) error {
	if err := validateActor(actor); err != nil {
		return err
	}
	return m.datasource.MarkInboxRead(ctx, actor.CompanyID, actor.MemberID, inboxID, m.clock())
}
