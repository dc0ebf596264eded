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
	"github.com/blnkfinance/payline/api/middleware"
	"github.com/blnkfinance/payline/internal/apierror"
	"github.com/blnkfinance/payline/model"
	"github.com/gin-gonic/gin"
)

func (a Api) QueueStats(c *gin.Context) {
	stats, err := a.payline.QueueStats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (a Api) ListDeadLetters(c *gin.Context) {
	jobs, err := a.payline.ListDeadLetters(c.Request.Context(), queryInt(c, "page", 1), queryInt(c, "size", 20))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, jobs)
}

func (a Api) GetDeadLetter(c *gin.Context) {
	job, err := a.payline.GetDeadLetter(c.Request.Context(), c.Param("key"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// ReplayDeadLetter puts an archived job back on the queue for the named company.
//
// Responses:
// - 200 OK: The replay was enqueued.
// - 403 Forbidden: The job belongs to another company.
// - 429 Too Many Requests: The job was replayed within the cooldown window.
// - 503 Service Unavailable: The system is read-only.
func (a Api) ReplayDeadLetter(c *gin.Context) {
	var body model2.ReplayDeadLetter
	if !bindJSON(c, &body, false) {
		return
	}
	if err := body.ValidateReplay(); err != nil {
		badRequest(c, err)
		return
	}

	result, err := a.payline.ReplayDeadLetter(c.Request.Context(), model.ReplayRequest{
		TaskID:          c.Param("key"),
		Reason:          body.Reason,
		TargetCompanyID: body.TargetCompanyID,
		ActorID:         principal(c).Subject,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (a Api) UnlockJob(c *gin.Context) {
	var body model2.ReasonRequest
	if !bindJSON(c, &body, false) {
		return
	}
	audit, err := a.payline.UnlockAction(c.Request.Context(), c.Param("key"), principal(c).Subject, body.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, audit)
}

// SubmitAction queues a marketplace action for the caller's company.
func (a Api) SubmitAction(c *gin.Context) {
	var body model2.SubmitAction
	if !bindJSON(c, &body, false) {
		return
	}
	req, err := body.ToActionRequest(principal(c).TenantID, middleware.IdempotencyKey(c))
	if err != nil {
		respondError(c, apierror.APIError{Code: apierror.ErrTenantMismatch, Message: err.Error()})
		return
	}

	result, err := a.payline.SubmitAction(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	status := http.StatusOK
	if result.Enqueued {
		status = http.StatusCreated
	}
	c.JSON(status, result)
}
