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
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/blnkfinance/payline/config"
	"github.com/blnkfinance/payline/internal/apierror"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	AuthorizationHeader = "Authorization"
	bearerPrefix        = "Bearer "
)

// Claims are the bearer token claims payline reads. Tokens are issued by the
// marketplace identity service and signed with the shared HS256 secret.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string   `json:"tenant_id,omitempty"`
	Roles    []string `json:"roles,omitempty"`
}

// AuthMiddleware verifies bearer tokens and gates routes by role or tenant.
type AuthMiddleware struct {
	secret     []byte
	issuer     string
	adminRoles []string
}

// NewAuthMiddleware creates a new instance of AuthMiddleware.
//
// Parameters:
// - cfg config.AuthConfig: The shared secret, the expected issuer and the operator roles.
//
// Returns:
// - *AuthMiddleware: A new instance of the authentication middleware.
func NewAuthMiddleware(cfg config.AuthConfig) *AuthMiddleware {
	return &AuthMiddleware{
		secret:     []byte(cfg.JWTSecret),
		issuer:     cfg.Issuer,
		adminRoles: cfg.AdminRoles,
	}
}

// Authenticate returns a middleware that parses the Authorization header and
// stores the caller's Principal on the context.
//
// Responses:
// - 401 Unauthorized: When the token is missing, malformed, expired or signed with another key.
// - 500 Internal Server Error: When no signing secret is configured.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(m.secret) == 0 {
			c.AbortWithStatusJSON(http.StatusInternalServerError,
				apierror.NewAPIError(apierror.ErrInternalServer, "Token verification is not configured", nil))
			return
		}

		raw := extractBearer(c)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				apierror.NewAPIError(apierror.ErrUnauthorized, "Authentication required. Use a Bearer token", nil))
			return
		}

		claims, err := m.parse(raw)
		if err != nil {
			message := "Invalid token"
			if errors.Is(err, jwt.ErrTokenExpired) {
				message = "Token has expired"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, apierror.NewAPIError(apierror.ErrUnauthorized, message, nil))
			return
		}

		setPrincipal(c, Principal{
			Subject:  claims.Subject,
			TenantID: claims.TenantID,
			Roles:    claims.Roles,
		})
		c.Next()
	}
}

// RequireAdmin lets through principals holding one of the configured admin roles.
func (m *AuthMiddleware) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := PrincipalFrom(c)
		if !ok || !p.HasRole(m.adminRoles...) {
			c.AbortWithStatusJSON(http.StatusForbidden,
				apierror.NewAPIError(apierror.ErrForbidden, "Operator role required", nil))
			return
		}
		c.Next()
	}
}

// RequireSeller lets through principals whose token names a tenant.
func (m *AuthMiddleware) RequireSeller() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := PrincipalFrom(c)
		if !ok || !p.IsSeller() {
			c.AbortWithStatusJSON(http.StatusForbidden,
				apierror.NewAPIError(apierror.ErrForbidden, "Seller token required", nil))
			return
		}
		c.Next()
	}
}

func (m *AuthMiddleware) parse(raw string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid || strings.TrimSpace(claims.Subject) == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// IssueToken signs a token for the given principal. Used by the token
// command for local development and by tests.
func IssueToken(cfg config.AuthConfig, p Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    cfg.Issuer,
			Subject:   p.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		TenantID: p.TenantID,
		Roles:    p.Roles,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.JWTSecret))
}

func extractBearer(c *gin.Context) string {
	header := c.GetHeader(AuthorizationHeader)
	if !strings.HasPrefix(header, bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
}
