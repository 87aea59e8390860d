/*
Copyright 2024 SatsQueue Authors.

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

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/satsqueue/satsqueue"
	"github.com/satsqueue/satsqueue/api/middleware"
	"github.com/satsqueue/satsqueue/config"
)

type Api struct {
	satsqueue *satsqueue.SatsQueue
	router    *gin.Engine
}

// Router registers the queue routes. Operator routes require the secret key when
// the server runs in secure mode; participant routes are rate limited.
func (a Api) Router() *gin.Engine {
	router := a.router
	conf, err := config.Fetch()
	if err != nil {
		conf = &config.Configuration{}
	}

	admin := router.Group("/", middleware.SecretKeyAuthMiddleware())
	admin.POST("/queues", a.CreateQueue)
	admin.PATCH("/queues/:name", a.UpdateQueue)
	admin.POST("/queues/:name/admissions", a.AdmitEntry)
	admin.POST("/queues/:name/call-next", a.CallNext)
	admin.POST("/queues/:name/entries/:id/call", a.CallEntry)
	admin.GET("/queues/:name/history", a.GetHistory)
	admin.GET("/tasks", a.GetTaskBacklog)

	public := router.Group("/", middleware.RateLimitMiddleware(conf))
	public.GET("/queues/:name", a.GetQueue)
	public.POST("/queues/:name/entries", a.JoinQueue)
	public.POST("/queues/:name/entries/:id/boosts", a.CreateBoost)
	public.GET("/boosts/:id", a.GetBoost)
	public.DELETE("/boosts/:id", a.CancelBoost)
	public.GET("/queues/:name/feed", a.QueueFeed)

	return a.router
}

func NewAPI(s *satsqueue.SatsQueue) *Api {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), otelgin.Middleware("satsqueue"))

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, "server running...")
	})

	return &Api{satsqueue: s, router: r}
}
