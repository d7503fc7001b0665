package http

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/bradb345/t3test-sub001/internal/http/handlers"
	"github.com/bradb345/t3test-sub001/internal/http/middleware"
	"github.com/bradb345/t3test-sub001/internal/modules/notifications"
	"github.com/bradb345/t3test-sub001/internal/modules/payments"
)

// Deps is everything the router wires into handlers. Redis and Limiter
// may be nil; without a limiter initiation is not throttled.
type Deps struct {
	Logger *slog.Logger
	DB     *gorm.DB
	Redis  redis.UniversalClient
	Auth   middleware.AuthConfig

	Payments      *payments.Service
	Webhooks      *payments.WebhookService
	Onboarding    *payments.OnboardingService
	Notifications *notifications.Service
	Providers     []payments.Provider
	Limiter       middleware.Limiter
}

func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(
		middleware.RequestID(),
		middleware.Logger(d.Logger),
		middleware.ErrorHandler(d.Logger),
		middleware.Recovery(d.Logger),
	)

	health := handlers.NewHealthHandler(d.DB, d.Redis)
	r.GET("/healthz", health.Check)

	wh := handlers.NewWebhookHandler(d.Logger, d.Webhooks, d.Providers...)
	r.POST("/webhooks/:provider", wh.Handle)

	api := r.Group("/api", middleware.Authenticate(d.Auth), middleware.RequireAuth())

	pay := handlers.NewPaymentsHandler(d.Payments, d.Webhooks)
	initiate := []gin.HandlerFunc{middleware.RequireRole(middleware.RoleTenant)}
	if d.Limiter != nil {
		initiate = append(initiate, middleware.RateLimit(d.Limiter, d.Logger))
	}
	api.POST("/payments/checkout", append(initiate, pay.Initiate)...)
	api.GET("/payments/:id", pay.Get)

	ob := handlers.NewOnboardingHandler(d.Onboarding)
	landlord := api.Group("/landlord", middleware.RequireRole(middleware.RoleLandlord))
	landlord.POST("/onboarding", ob.Start)
	landlord.GET("/onboarding", ob.Status)

	nt := handlers.NewNotificationsHandler(d.Notifications)
	api.GET("/notifications", nt.List)
	api.POST("/notifications/:id/read", nt.MarkRead)

	admin := api.Group("/admin", middleware.RequireAdmin())
	admin.POST("/payments/:id/sync", pay.AdminSync)

	return r
}

// DefaultTokenLeeway is the clock skew tolerated on token expiry.
const DefaultTokenLeeway = 30 * time.Second
