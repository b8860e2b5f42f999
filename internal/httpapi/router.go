package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	identity "github.com/clinicore/identity"
	"github.com/clinicore/identity/middleware"
)

// Dependencies encapsulates what the router needs.
type Dependencies struct {
	Engine *identity.Engine
	Logger *zap.Logger

	// Audit serves GET /audit-logs. Nil makes the route answer 503.
	Audit identity.AuditQuerier
	// Metrics serves GET /metrics. Nil leaves the route unregistered.
	Metrics http.Handler

	Readiness      map[string]ReadinessCheck
	AllowedOrigins []string
	TrustedProxies []string
	AdminRoles     []string
	Release        bool
	Now            func() time.Time
}

// NewRouter configures the gin engine with every route and middleware.
func NewRouter(deps Dependencies) *gin.Engine {
	if deps.Release {
		gin.SetMode(gin.ReleaseMode)
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	adminRoles := deps.AdminRoles
	if len(adminRoles) == 0 {
		adminRoles = []string{"ADMIN"}
	}

	r := gin.New()
	_ = r.SetTrustedProxies(deps.TrustedProxies)
	r.Use(gin.Recovery())
	r.Use(requestLogger(log.Named("http")))
	r.Use(corsMiddleware(deps.AllowedOrigins))
	r.Use(clientContext())

	health := NewHealthHandler(deps.Now, deps.Readiness)
	r.GET("/health", health.Status)
	r.GET("/ready", health.Readiness)

	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	NewAuthHandler(deps.Engine).RegisterRoutes(r.Group("/auth"))

	auditHandler := NewAuditHandler(deps.Audit)
	r.GET("/audit-logs",
		wrap(middleware.RequireAccess(deps.Engine)),
		wrap(middleware.RequireRole(adminRoles...)),
		auditHandler.List,
	)

	return r
}
