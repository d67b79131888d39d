package v1

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/carebridgehq/carebridge/internal/config"
	"github.com/carebridgehq/carebridge/internal/domain"
	"github.com/carebridgehq/carebridge/pkg/auth"
	"github.com/carebridgehq/carebridge/pkg/metrics"
)

type RouterDeps struct {
	Config       *config.Config
	Logger       *zap.Logger
	Collector    *metrics.Collector
	JWTManager   *auth.JWTManager
	Auth         *AuthHandler
	Connection   *ConnectionHandler
	Consultation *ConsultationHandler
	Record       *RecordHandler
}

func NewRouter(deps RouterDeps) *gin.Engine {
	if deps.Config.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggingMiddleware(deps.Logger))
	r.Use(MetricsMiddleware(deps.Collector))
	r.Use(corsMiddleware(deps.Config.CORS))
	r.Use(RateLimitMiddleware(rate.Limit(deps.Config.RateLimit.RequestsPerSecond), deps.Config.RateLimit.BurstSize))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"version": deps.Config.App.Version,
		})
	})
	r.GET("/metrics", gin.WrapH(metrics.MetricsHandler()))

	authMW := AuthMiddleware(deps.JWTManager)

	api := r.Group("/api/v1")
	{
		authGroup := api.Group("/auth", AuthRateLimitMiddleware(deps.Config.RateLimit))
		{
			authGroup.POST("/login", deps.Auth.Login)
			authGroup.POST("/refresh", deps.Auth.Refresh)
			authGroup.POST("/password", authMW, deps.Auth.ChangePassword)
		}

		connections := api.Group("/connections", authMW)
		{
			connections.POST("", RequireRole(domain.RoleProvider, domain.RoleAdmin), deps.Connection.Create)
			connections.GET("", deps.Connection.List)
			connections.GET("/:id", deps.Connection.Get)
			connections.DELETE("/:id", deps.Connection.Delete)
			// Consent transitions are personal to the connection's parties;
			// the engine rejects anyone else, admins included.
			connections.POST("/:id/request-access", RequireRole(domain.RoleProvider), deps.Connection.RequestFullAccess)
			connections.POST("/:id/respond", RequireRole(domain.RolePatient), deps.Connection.Respond)
			connections.POST("/:id/revoke", deps.Connection.Revoke)
			connections.POST("/:id/grant", RequireRole(domain.RolePatient), deps.Connection.Grant)
		}

		consultations := api.Group("/consultations", authMW)
		{
			consultations.POST("", RequireRole(domain.RoleProvider, domain.RoleAdmin), deps.Consultation.Create)
			consultations.GET("", deps.Consultation.List)
			consultations.GET("/:id", deps.Consultation.Get)
			consultations.PATCH("/:id", RequireRole(domain.RoleProvider, domain.RoleAdmin), deps.Consultation.Update)
			consultations.DELETE("/:id", RequireRole(domain.RoleProvider, domain.RoleAdmin), deps.Consultation.Delete)
			consultations.POST("/:id/start", RequireRole(domain.RoleProvider, domain.RoleAdmin), deps.Consultation.Start)
			consultations.POST("/:id/complete", RequireRole(domain.RoleProvider, domain.RoleAdmin), deps.Consultation.Complete)
			consultations.POST("/:id/cancel", deps.Consultation.Cancel)
			consultations.GET("/:id/records", deps.Record.ListByConsultation)
		}

		records := api.Group("/records", authMW)
		{
			records.POST("", RequireRole(domain.RoleProvider, domain.RoleAdmin), deps.Record.Create)
			records.GET("", deps.Record.List)
			records.GET("/:id", deps.Record.Get)
			records.PATCH("/:id", RequireRole(domain.RoleProvider, domain.RoleAdmin), deps.Record.Update)
			records.DELETE("/:id", RequireRole(domain.RoleProvider, domain.RoleAdmin), deps.Record.Delete)
			records.POST("/:id/addenda", RequireRole(domain.RoleProvider, domain.RoleAdmin), deps.Record.AddAddendum)
		}

		patients := api.Group("/patients/:patientId", authMW)
		{
			patients.GET("/pending-requests", RequireRole(domain.RolePatient, domain.RoleAdmin), deps.Connection.PendingRequests)
			patients.GET("/consultations", deps.Consultation.ListByPatient)
			patients.GET("/records", deps.Record.ListByPatient)
		}
	}

	return r
}

func corsMiddleware(cfg config.CORSConfig) gin.HandlerFunc {
	allowAll := len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*"

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" {
			allowed := allowAll
			for _, o := range cfg.AllowedOrigins {
				if o == origin {
					allowed = true
					break
				}
			}
			if allowed {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Access-Control-Allow-Methods", strings.Join(cfg.AllowedMethods, ", "))
				c.Header("Access-Control-Allow-Headers", strings.Join(cfg.AllowedHeaders, ", "))
				c.Header("Access-Control-Max-Age", cfg.MaxAge.String())
			}
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
