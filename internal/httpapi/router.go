// Package httpapi exposes the suggestion box service over HTTP with gin.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"suggestbox/api/internal/app"
	"suggestbox/api/internal/ratelimit"
)

type RouterConfig struct {
	CORSOrigin  string
	ServiceName string
	// Tracing adds otelgin spans; enable it only when an exporter is set up.
	Tracing bool
	// SubmitLimiter throttles anonymous submissions. Nil disables throttling.
	SubmitLimiter ratelimit.Limiter
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewRouter builds the engine. extra dependencies are added to the
// readiness report under their map key.
func NewRouter(cfg RouterConfig, svc *app.Service, extra map[string]Pinger) *gin.Engine {
	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.NoRoute(func(c *gin.Context) {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	router.NoMethod(func(c *gin.Context) {
		writeError(c, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	// Tracing first so the recovered-panic and request log lines carry the span.
	if cfg.Tracing {
		router.Use(otelgin.Middleware(cfg.ServiceName))
	}
	router.Use(RequestID(), Recovery(), Logger(), CORS(cfg.CORSOrigin))

	checks := map[string]Pinger{"database": svc}
	for name, pinger := range extra {
		checks[name] = pinger
	}
	router.GET("/api/health", health)
	router.GET("/api/ready", ready(checks))

	public := NewPublicHandler(svc)
	staff := NewStaffHandler(svc)
	manage := NewManageHandler(svc)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/departments", public.Departments)
		suggestions := v1.Group("/suggestions")
		submit := []gin.HandlerFunc{public.Submit}
		if cfg.SubmitLimiter != nil {
			submit = append([]gin.HandlerFunc{throttle(cfg.SubmitLimiter, "submit")}, submit...)
		}
		suggestions.POST("", submit...)
		suggestions.GET("", public.Feed)
		suggestions.GET("/:code", public.Lookup)
		suggestions.POST("/:code/upvote", public.Upvote)

		v1.POST("/admin/login", staff.Login)

		admin := v1.Group("/admin", requireStaff(svc))
		admin.POST("/logout", staff.Logout)
		admin.GET("/me", staff.Me)
		admin.GET("/dashboard/stats", staff.Stats)

		SuggestionRouter(admin.Group("/suggestions"), staff)
		DepartmentRouter(admin.Group("/departments"), manage)
		StaffRouter(admin.Group("/users"), manage)
	}
	return router
}

func SuggestionRouter(rg *gin.RouterGroup, h *StaffHandler) {
	rg.GET("", h.List)
	rg.DELETE("", h.Delete)
	rg.GET("/:id", h.Get)
	rg.POST("/:id/approve", h.Approve)
	rg.POST("/:id/reject", h.Reject)
	rg.PUT("/:id/status", h.SetStatus)
	rg.POST("/:id/replies", h.Reply)
	rg.POST("/:id/upvote", h.Upvote)
}

func DepartmentRouter(rg *gin.RouterGroup, h *ManageHandler) {
	rg.GET("", h.ListDepartments)
	rg.POST("", h.CreateDepartment)
	rg.PUT("/:id", h.RenameDepartment)
	rg.DELETE("/:id", h.DeleteDepartment)
}

func StaffRouter(rg *gin.RouterGroup, h *ManageHandler) {
	rg.GET("", h.ListStaff)
	rg.POST("", h.CreateStaff)
	rg.PUT("/:id", h.UpdateStaff)
	rg.DELETE("/:id", h.DeleteStaff)
}

func health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type checkResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func ready(checks map[string]Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		results := make(map[string]checkResult, len(checks))
		allOK := true
		for name, pinger := range checks {
			if err := pinger.Ping(ctx); err != nil {
				allOK = false
				results[name] = checkResult{Status: "error", Error: err.Error()}
				continue
			}
			results[name] = checkResult{Status: "ok"}
		}

		status, label := http.StatusOK, "ready"
		if !allOK {
			status, label = http.StatusServiceUnavailable, "not_ready"
		}
		c.JSON(status, gin.H{"ok": allOK, "status": label, "checks": results})
	}
}
