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

	model2 "github.com/blnkfinance/payline/api/model"
	"github.com/blnkfinance/payline/internal/apierror"
	"github.com/gin-gonic/gin"
)

func (a Api) GetReadOnly(c *gin.Context) {
	readOnly, err := a.payline.IsReadOnly(c.Request.Context())
	if err != nil {
		respondError(c, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read the read-only switch", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"read_only": readOnly})
}

// SetReadOnly flips the maintenance switch. The change is audited.
func (a Api) SetReadOnly(c *gin.Context) {
	var body model2.SetReadOnly
	if !bindJSON(c, &body, false) {
		return
	}
	if err := body.ValidateSetReadOnly(); err != nil {
		badRequest(c, err)
		return
	}

	if err := a.payline.SetReadOnly(c.Request.Context(), *body.Enabled, principal(c).Subject, body.Reason); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"read_only": *body.Enabled})
}

func (a Api) ListAuditLogs(c *gin.Context) {
	logs, err := a.payline.ListAuditLogs(c.Request.Context(), c.Query("entity_type"), c.Query("entity_id"), queryInt(c, "limit", 50))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, logs)
}

func (a Api) CheckIntegrity(c *gin.Context) {
	report, err := a.payline.CheckIntegrity(c.Request.Context(), queryInt(c, "limit", 0))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
