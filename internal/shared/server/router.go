package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vriksha-code/verisure/internal/onboarding"
	"github.com/vriksha-code/verisure/internal/services/health"
	"github.com/vriksha-code/verisure/internal/shared/config"
	"github.com/vriksha-code/verisure/internal/shared/metrics"
	"github.com/vriksha-code/verisure/internal/shared/server/middleware"
	"github.com/vriksha-code/verisure/internal/shared/server/respond"
	"github.com/vriksha-code/verisure/internal/submissions"
)

// RouterDeps lists the handlers the router mounts. Nil handlers are skipped.
type RouterDeps struct {
	Config      config.Config
	Submissions *submissions.Handler
	Onboarding  *onboarding.Handler
	Health      *health.Service
	// FilesDir serves locally stored uploads under /files when set.
	FilesDir string
}

// publicPaths bypass identity resolution.
var publicPaths = []string{
	"/api/v1/health",
	"/api/v1/ready",
	"/api/v1/document-types",
	"/api/v1/onboarding/otp",
	"/metrics",
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	if deps.Config.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.MaxMultipartMemory = 16 << 20

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
		metrics.Middleware(),
		middleware.Auth(deps.Config.Env, publicPaths...),
		middleware.RateLimit(middleware.RateLimitConfig{
			DefaultGroup: "DEFAULT",
			GroupFor: middleware.RouteGroups(map[string]string{
				"POST /api/v1/submissions":           "SUBMIT",
				"POST /api/v1/submissions/batch":     "SUBMIT",
				"POST /api/v1/onboarding/otp":        "OTP",
				"POST /api/v1/onboarding/otp/verify": "OTP",
				"GET /api/v1/submissions/stream":     "STREAM",
			}),
			Rules: map[string]middleware.RateLimitRule{
				"DEFAULT": {Rate: 10, Burst: 40},
				"SUBMIT":  {Rate: 1, Burst: 10},
				"OTP":     {Rate: 0.2, Burst: 5},
				"STREAM":  {Rate: 0.5, Burst: 5},
			},
		}),
	)

	healthSvc := deps.Health
	if healthSvc == nil {
		healthSvc = health.NewService()
	}

	r.GET("/metrics", metrics.Handler())
	if dir := strings.TrimSpace(deps.FilesDir); dir != "" {
		r.Static("/files", dir)
	}

	api := r.Group("/api/v1")
	api.GET("/health", func(c *gin.Context) {
		respond.JSON(c, http.StatusOK, healthSvc.Status())
	})
	api.GET("/ready", func(c *gin.Context) {
		ok, results := healthSvc.Ready(c.Request.Context())
		status := http.StatusOK
		if !ok {
			status = http.StatusServiceUnavailable
		}
		respond.JSON(c, status, gin.H{"ok": ok, "checks": results})
	})
	registerMeRoutes(api)
	if deps.Onboarding != nil {
		deps.Onboarding.RegisterRoutes(api)
	}
	if deps.Submissions != nil {
		deps.Submissions.RegisterRoutes(api)
	}

	return r
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
