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
	"github.com/gin-gonic/gin"
)

// GetBalance returns the caller's balance derived from its ledger entries.
func (a Api) GetBalance(c *gin.Context) {
	balance, err := a.payline.GetBalance(c.Request.Context(), principal(c).TenantID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, balance)
}

func (a Api) ListEntries(c *gin.Context) {
	entries, err := a.payline.ListEntries(c.Request.Context(), principal(c).TenantID, queryInt(c, "limit", 20), queryInt(c, "offset", 0))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (a Api) CreateDestination(c *gin.Context) {
	var body model2.CreateDestination
	if !bindJSON(c, &body, false) {
		return
	}

	dest, err := a.payline.CreateDestination(c.Request.Context(), body.ToNewDestination(principal(c).TenantID))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dest)
}

func (a Api) ListDestinations(c *gin.Context) {
	dests, err := a.payline.ListDestinations(c.Request.Context(), principal(c).TenantID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dests)
}

func (a Api) DeactivateDestination(c *gin.Context) {
	if err := a.payline.DeactivateDestination(c.Request.Context(), principal(c).TenantID, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Destination deactivated"})
}

func (a Api) SetDefaultDestination(c *gin.Context) {
	if err := a.payline.SetDefaultDestination(c.Request.Context(), principal(c).TenantID, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Default destination updated"})
}
