package server

import (
	"github.com/gin-gonic/gin"

	"github.com/memcortex/fabric/internal/config"
	"github.com/memcortex/fabric/internal/handler"
)

// Handlers bundles the endpoint handlers the router dispatches to, so
// NewRouter's signature doesn't grow with every new endpoint group.
type Handlers struct {
	Query        *handler.QueryHandler
	Memory       *handler.MemoryHandler
	Feedback     *handler.FeedbackHandler
	Conversation *handler.ConversationHandler
}

// NewRouter builds the gin.Engine: CORS is global, auth middleware guards
// every /api route (there is no public surface per spec.md §6).
func NewRouter(cfg *config.Config, h Handlers) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(CORS(cfg))

	r.GET("/healthz", func(c *gin.Context) { c.Status(200) })

	api := r.Group("/api")
	api.Use(RequireAuth(cfg.Auth.JWTSecret))
	{
		api.POST("/query", h.Query.Ask)

		api.POST("/memory", h.Memory.Create)
		api.GET("/memory", h.Memory.List)
		api.GET("/memory/search", h.Memory.SearchByTag)
		api.GET("/memory/:id", h.Memory.Get)
		api.PUT("/memory/:id", h.Memory.Update)
		api.DELETE("/memory/:id", h.Memory.Delete)

		api.POST("/feedback", h.Feedback.Submit)

		api.POST("/conversations", h.Conversation.Start)
		api.GET("/conversations", h.Conversation.List)
		api.GET("/conversations/:id", h.Conversation.Get)
		api.POST("/conversations/:id/messages", h.Conversation.AppendMessage)
	}

	return r
}
