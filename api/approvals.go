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
	model2 "github.com/maintflow/maintflow/api/model"
	"github.com/maintflow/maintflow/api/middleware"
	"github.com/maintflow/maintflow/model"
)

// CreateApproval submits a new approval. A replay of an idempotency key
// answers 200 with the approval created the first time.
func (a Api) CreateApproval(c *gin.Context) {
	actor, _ := middleware.ActorFrom(c)

	var newApproval model2.CreateApproval
	if err := c.ShouldBindJSON(&newApproval); err != nil {
		badRequest(c, err)
		return
	}
	if err := newApproval.ValidateCreateApproval(); err != nil {
		badRequest(c, err)
		return
	}

	resp, created, err := a.maintflow.CreateApproval(c.Request.Context(), actor, newApproval.ToCreateApprovalInput())
	if err != nil {
		respondError(c, err)
		return
	}

	if !created {
		c.JSON(http.StatusOK, resp)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (a Api) GetApproval(c *gin.Context) {
	actor, _ := middleware.ActorFrom(c)

	resp, err := a.maintflow.GetApproval(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (a Api) ListApprovals(c *gin.Context) {
	actor, _ := middleware.ActorFrom(c)

	limit, offset, err := pagination(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	filter := model.ApprovalFilter{
		Status:    strings.ToUpper(strings.TrimSpace(c.Query("status"))),
		RefEntity: strings.TrimSpace(c.Query("refEntity")),
		RefID:     strings.TrimSpace(c.Query("refId")),
		Limit:     limit,
		Offset:    offset,
	}

	resp, err := a.maintflow.ListApprovals(c.Request.Context(), actor, filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (a Api) UpdateApproval(c *gin.Context) {
	actor, _ := middleware.ActorFrom(c)

	var update model2.UpdateApproval
	if err := c.ShouldBindJSON(&update); err != nil {
		badRequest(c, err)
		return
	}
	if err := update.ValidateUpdateApproval(); err != nil {
		badRequest(c, err)
		return
	}

	resp, err := a.maintflow.UpdateApproval(c.Request.Context(), actor, c.Param("id"), update.ToUpdateApprovalInput())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (a Api) ApproveApproval(c *gin.Context) {
	a.decide(c, model.OutcomeApprove)
}

func (a Api) RejectApproval(c *gin.Context) {
	a.decide(c, model.OutcomeReject)
}

func (a Api) decide(c *gin.Context, outcome string) {
	actor, _ := middleware.ActorFrom(c)

	var decision model2.Decision
	if err := bindOptionalJSON(c, &decision); err != nil {
		badRequest(c, err)
		return
	}
	if err := decision.ValidateDecision(); err != nil {
		badRequest(c, err)
		return
	}

	resp, err := a.maintflow.DecideApproval(c.Request.Context(), actor, c.Param("id"), decision.ToDecisionInput(outcome))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// CancelApproval serves both DELETE /:id and POST /:id/cancel.
func (a Api) CancelApproval(c *gin.Context) {
	actor, _ := middleware.ActorFrom(c)

	var cancel model2.CancelApproval
	if err := bindOptionalJSON(c, &cancel); err != nil {
		badRequest(c, err)
		return
	}
	if err := cancel.ValidateCancelApproval(); err != nil {
		badRequest(c, err)
		return
	}

	resp, err := a.maintflow.CancelApproval(c.Request.Context(), actor, c.Param("id"), cancel.Comment)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// bindOptionalJSON binds the body when one was sent.
func bindOptionalJSON(c *gin.Context, obj interface{}) error {
	if c.Request.ContentLength == 0 {
		return nil
	}
	return c.ShouldBindJSON(obj)
}
