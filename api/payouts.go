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

	model2 "github.com/blnkfinance/payline/api/model"
	"github.com/blnkfinance/payline/api/middleware"
	"github.com/blnkfinance/payline/model"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func payoutFilter(c *gin.Context, sellerID string) model.PayoutFilter {
	return model.PayoutFilter{
		SellerID: sellerID,
		Status:   model.PayoutStatus(strings.ToUpper(strings.TrimSpace(c.Query("status")))),
		Limit:    queryInt(c, "limit", 50),
		Offset:   queryInt(c, "offset", 0),
	}
}

// ListPayouts lists payouts across sellers, optionally filtered by seller_id and status.
func (a Api) ListPayouts(c *gin.Context) {
	payouts, err := a.payline.ListPayouts(c.Request.Context(), payoutFilter(c, c.Query("seller_id")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, payouts)
}

func (a Api) GetPayout(c *gin.Context) {
	payout, err := a.payline.GetPayout(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, payout)
}

func (a Api) ApprovePayout(c *gin.Context) {
	var body model2.ReasonRequest
	if !bindJSON(c, &body, false) {
		return
	}
	if err := body.ValidateRequired(); err != nil {
		badRequest(c, err)
		return
	}
	logDecision(c, "approve")
	payout, err := a.payline.ApprovePayout(c.Request.Context(), c.Param("id"), principal(c).Subject, body.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, payout)
}

func (a Api) RejectPayout(c *gin.Context) {
	var body model2.ReasonRequest
	if !bindJSON(c, &body, false) {
		return
	}
	if err := body.ValidateRequired(); err != nil {
		badRequest(c, err)
		return
	}
	logDecision(c, "reject")
	payout, err := a.payline.RejectPayout(c.Request.Context(), c.Param("id"), principal(c).Subject, body.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, payout)
}

// ProcessPayout settles an approved payout against the seller's ledger.
func (a Api) ProcessPayout(c *gin.Context) {
	logDecision(c, "process")
	payout, err := a.payline.ProcessPayoutInternal(c.Request.Context(), c.Param("id"), principal(c).Subject)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, payout)
}

// CreatePayout opens a payout for the caller's tenant.
func (a Api) CreatePayout(c *gin.Context) {
	var body model2.CreatePayout
	if !bindJSON(c, &body, false) {
		return
	}
	if err := body.ValidateCreatePayout(); err != nil {
		badRequest(c, err)
		return
	}

	payout, err := a.payline.CreatePayoutRequest(c.Request.Context(), principal(c).TenantID, body.DestinationID,
		body.AmountDecimal(), body.Currency, middleware.IdempotencyKey(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, payout)
}

func (a Api) ListSellerPayouts(c *gin.Context) {
	payouts, err := a.payline.ListPayouts(c.Request.Context(), payoutFilter(c, principal(c).TenantID))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, payouts)
}

func logDecision(c *gin.Context, decision string) {
	logrus.WithFields(logrus.Fields{
		"payout_id":       c.Param("id"),
		"decision":        decision,
		"actor_id":        principal(c).Subject,
		"idempotency_key": middleware.IdempotencyKey(c),
	}).Info("operator payout decision")
}
