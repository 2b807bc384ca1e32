package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/yoockh/meetscribe/internal/api/handlers"
	"github.com/yoockh/meetscribe/internal/api/middleware"
)

type Deps struct {
	Ops       *handlers.OpsHandler
	JWTSecret string
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	r.GET("/healthz", d.Ops.Healthz)

	// Protected ops routes (JWT)
	auth := r.Group("/v1")
	auth.Use(middleware.JWTAuth(d.JWTSecret))

	auth.GET("/sessions", d.Ops.ListSessions)
	auth.GET("/memory", d.Ops.Memory)
	auth.POST("/redeliver", d.Ops.Redeliver)
	auth.POST("/meetings/:channel_id/end", d.Ops.EndMeeting)
}
