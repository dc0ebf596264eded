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

	"github.com/blnkfinance/payline"
	"github.com/blnkfinance/payline/api/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

type Api struct {
	payline *payline.Payline
	router  *gin.Engine
	auth    *middleware.AuthMiddleware
}

// Router registers the operator and seller routes. Operator routes need an
// admin role; seller routes act for the tenant named in the token.
func (a Api) Router() *gin.Engine {
	router := a.router
	idempotent := middleware.RequireIdempotencyKey()

	admin := router.Group("/admin", a.auth.Authenticate(), a.auth.RequireAdmin())
	{
		admin.GET("/payouts", a.ListPayouts)
		admin.GET("/payouts/:id", a.GetPayout)
		admin.POST("/payouts/:id/approve", idempotent, a.ApprovePayout)
		admin.POST("/payouts/:id/reject", idempotent, a.RejectPayout)
		admin.POST("/payouts/:id/process", idempotent, a.ProcessPayout)

		admin.POST("/releases/:order_id/force", a.ForceRelease)
		admin.POST("/releases/sweep", a.SweepReleases)

		admin.GET("/queue/stats", a.QueueStats)
		admin.GET("/queue/dlq", a.ListDeadLetters)
		admin.GET("/queue/dlq/:key", a.GetDeadLetter)
		admin.POST("/queue/dlq/:key/replay", a.ReplayDeadLetter)
		admin.POST("/queue/jobs/:key/unlock", a.UnlockJob)

		admin.GET("/system/read-only", a.GetReadOnly)
		admin.PUT("/system/read-only", a.SetReadOnly)
		admin.GET("/audit", a.ListAuditLogs)
		admin.GET("/integrity", a.CheckIntegrity)
	}

	seller := router.Group("", a.auth.Authenticate(), a.auth.RequireSeller())
	{
		seller.POST("/payouts", idempotent, a.CreatePayout)
		seller.GET("/payouts", a.ListSellerPayouts)

		seller.POST("/destinations", a.CreateDestination)
		seller.GET("/destinations", a.ListDestinations)
		seller.DELETE("/destinations/:id", a.DeactivateDestination)
		seller.PUT("/destinations/:id/default", a.SetDefaultDestination)

		seller.GET("/balance", a.GetBalance)
		seller.GET("/balance/entries", a.ListEntries)

		seller.POST("/actions", idempotent, a.SubmitAction)
	}

	return a.router
}

func NewAPI(p *payline.Payline) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf := p.Config()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(conf.ProjectName))
	r.Use(middleware.RateLimitMiddleware(conf))

	r.GET("/health", func(c *gin.Context) {
		readOnly, err := p.IsReadOnly(c.Request.Context())
		status := "ok"
		if err != nil {
			status = "degraded"
		}
		c.JSON(http.StatusOK, gin.H{"status": status, "read_only": readOnly})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return &Api{payline: p, router: r, auth: middleware.NewAuthMiddleware(conf.Auth)}
}
