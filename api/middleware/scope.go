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

package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

const principalKey = "principal"

// Principal is the authenticated caller of a request. Sellers carry the
// tenant they act for; operators carry one of the configured admin roles.
type Principal struct {
	Subject  string
	TenantID string
	Roles    []string
}

// HasRole reports whether the principal holds any of the given roles.
// Role names compare case-insensitively.
func (p Principal) HasRole(roles ...string) bool {
	for _, held := range p.Roles {
		for _, want := range roles {
			if strings.EqualFold(strings.TrimSpace(held), strings.TrimSpace(want)) {
				return true
			}
		}
	}
	return false
}

// IsSeller is true when the token names a tenant.
func (p Principal) IsSeller() bool {
	return strings.TrimSpace(p.TenantID) != ""
}

// PrincipalFrom returns the principal stored by Authenticate.
func PrincipalFrom(c *gin.Context) (Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}

func setPrincipal(c *gin.Context, p Principal) {
	c.Set(principalKey, p)
}
