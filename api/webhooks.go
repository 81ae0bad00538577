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
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/maintflow/maintflow/internal/apierror"
)

const maxWebhookBody = 1 << 20

// ReceiveApprovalWebhook accepts a signed approval event from a dispatcher.
// The raw body is verified before it is parsed. Duplicates answer 200.
func (a Api) ReceiveApprovalWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": apierror.ErrBadRequest, "message": "unable to read request body"})
		return
	}
	if len(body) > maxWebhookBody {
		c.JSON(http.StatusBadRequest, gin.H{"code": apierror.ErrBadRequest, "message": "request body exceeds 1 MiB"})
		return
	}

	receipt, err := a.maintflow.ReceiveWebhook(c.Request.Context(), c.Request.Header, body)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}
