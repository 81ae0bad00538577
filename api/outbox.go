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

func (a Api) ListOutbox(c *gin.Context) {
	limit, offset, err := pagination(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	filter := model.OutboxFilter{
		Status: strings.ToUpper(strings.TrimSpace(c.Query("status"))),
		Limit:  limit,
		Offset: offset,
	}

	actor, _ := middleware.ActorFrom(c)
	resp, err := a.maintflow.ListOutbox(c.Request.Context(), actor, filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (a Api) GetOutbox(c *gin.Context) {
	id, err := int64Param(c, "id")
	if err != nil {
		badRequest(c, err)
		return
	}

	actor, _ := middleware.ActorFrom(c)
	resp, err := a.maintflow.GetOutbox(c.Request.Context(), actor, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (a Api) ListWebhookLogs(c *gin.Context) {
	id, err := int64Param(c, "id")
	if err != nil {
		badRequest(c, err)
		return
	}

	actor, _ := middleware.ActorFrom(c)
	resp, err := a.maintflow.ListWebhookLogs(c.Request.Context(), actor, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// RetryOutbox puts a FAILED row back in the dispatcher's queue.
func (a Api) RetryOutbox(c *gin.Context) {
	id, err := int64Param(c, "id")
	if err != nil {
		badRequest(c, err)
		return
	}

	actor, _ := middleware.ActorFrom(c)
	resp, err := a.maintflow.RetryOutbox(c.Request.Context(), actor, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
