package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AI-codelabs/leadloopr-integrations/internal/config"
	"github.com/AI-codelabs/leadloopr-integrations/internal/http/handler"
	httpmiddleware "github.com/AI-codelabs/leadloopr-integrations/internal/http/middleware"
	"github.com/AI-codelabs/leadloopr-integrations/internal/middleware"
	"github.com/AI-codelabs/leadloopr-integrations/internal/org"
)

// NewRouter wires Gin routes and middleware.
func NewRouter(cfg config.Config, integrationHandler *handler.IntegrationHandler, resolver *org.Resolver, rateLimiter *middleware.RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(nil))
	if rateLimiter != nil {
		r.Use(rateLimiter.Handler())
	}
	r.Use(middleware.CORS(cfg))
	r.Use(otelgin.Middleware(cfg.ServiceName))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// The provider redirects straight to the callback, so it cannot carry the
	// org header; the persisted connect state resolves the tenant instead.
	r.GET("/integrations/:provider/callback", integrationHandler.Callback)

	api := r.Group("/", httpmiddleware.Org(resolver))
	{
		integrations := api.Group("/integrations")
		{
			integrations.GET("", integrationHandler.List)
			integrations.GET("/:provider/connect", integrationHandler.Connect)
			integrations.GET("/:provider/accounts", integrationHandler.ListAccounts)
			integrations.POST("/:provider/account", integrationHandler.SelectAccount)
			integrations.GET("/:provider/status", integrationHandler.Status)
			integrations.DELETE("/:provider", integrationHandler.Disconnect)
		}

		api.POST("/leads/:id/sync/:provider", integrationHandler.SyncLead)
	}

	return r
}
