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
package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/maintflow/maintflow/api/middleware"
	"github.com/maintflow/maintflow/model"
)

// ListInbox returns the acting member's inbox, optionally filtered by type
// and unread state.
func (a Api) ListInbox(c *gin.Context) {
	actor, _ := middleware.ActorFrom(c)

	limit, offset, err := pagination(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	unread, err := boolQuery(c, "unread")
	if err != nil {
		badRequest(c, err)
		return
	}
	filter := model.InboxFilter{
		InboxType:  strings.ToUpper(strings.TrimSpace(c.Query("type"))),
		UnreadOnly: unread,
		Limit:      limit,
		Offset:     offset,
	}

	resp, err := a.maintflow.ListInbox(c.Request.Context(), actor, filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (a Api) MarkInboxRead(c *gin.Context) {
	actor, _ := middleware.ActorFrom(c)

	id, err := int64Param(c, "id")
	if err != nil {
		badRequest(c, err)
		return
	}

	if err := a.maintflow.MarkInboxRead(c.Request.Context(), actor, id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"inboxId": id, "isRead": true})
}
