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
	"time"

	model2 "github.com/blnkfinance/payline/api/model"
	"github.com/gin-gonic/gin"
)

// ForceRelease releases a held payment through the same path as the
// automatic release, under the order's force key.
func (a Api) ForceRelease(c *gin.Context) {
	var body model2.ReasonRequest
	if !bindJSON(c, &body, false) {
		return
	}
	if err := body.ValidateRequired(); err != nil {
		badRequest(c, err)
		return
	}

	result, err := a.payline.ForceRelease(c.Request.Context(), c.Param("order_id"), principal(c).Subject, body.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// SweepReleases runs one pass over payments stuck in HELD or INITIATED.
func (a Api) SweepReleases(c *gin.Context) {
	olderThan := time.Duration(a.payline.Config().Recovery.StuckReleaseMinutes) * time.Minute
	result, err := a.payline.ReleaseStuckPayments(c.Request.Context(), olderThan, queryInt(c, "limit", 0))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
