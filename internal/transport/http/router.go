package http

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/richardliu001/points-ledger/internal/config"
	"github.com/richardliu001/points-ledger/internal/metrics"
	"github.com/richardliu001/points-ledger/internal/service"
	"go.uber.org/zap"
)

type RouterConfig struct {
	RateLimit      config.RateLimitConfig
	JWTSecret      string
	AllowedOrigins []string
}

func NewRouter(svc *service.Services, cfg RouterConfig, log *zap.SugaredLogger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware(log))
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Authorization", "Content-Type", "Origin", "Accept"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}
	if cfg.RateLimit.RPS > 0 {
		r.Use(RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	registerHandlers(r, &handler{svc: svc, log: log}, []byte(cfg.JWTSecret))
	return r
}

func registerHandlers(r *gin.Engine, h *handler, secret []byte) {
	v1 := r.Group("/v1")
	v1.GET("/rates", ratesHandler(h))

	authed := v1.Group("", AuthMiddleware(secret))
	{
		wallets := authed.Group("/wallets/:user_id", RequireOwner())
		wallets.GET("", walletHandler(h))
		wallets.GET("/transactions", historyHandler(h))
		wallets.GET("/payouts", userPayoutsHandler(h))
		wallets.POST("/purchases", purchaseHandler(h))
		wallets.POST("/payouts", payoutHandler(h))

		authed.GET("/payouts/:id", getPayoutHandler(h))
		authed.POST("/payouts/:id/cancel", cancelPayoutHandler(h))
	}

	internal := authed.Group("/internal/wallets/:user_id", RequireRole(RoleService, RoleAdmin))
	{
		internal.POST("/credit", entryHandler(h, true))
		internal.POST("/debit", entryHandler(h, false))
		internal.GET("/balance-check", balanceCheckHandler(h))
	}

	admin := authed.Group("/admin", RequireRole(RoleAdmin))
	{
		admin.POST("/rates", setRateHandler(h))
		admin.GET("/rates/:currency/history", rateHistoryHandler(h))
		admin.POST("/wallets/:user_id/adjust", adjustHandler(h))
		admin.GET("/wallets/:user_id", walletDetailsHandler(h))
		admin.GET("/payouts", adminPayoutsHandler(h))
		admin.POST("/payouts/:id/approve", reviewPayoutHandler(h, service.ApprovePayout))
		admin.POST("/payouts/:id/reject", reviewPayoutHandler(h, service.RejectPayout))
		admin.POST("/transactions/:id/reverse", reverseHandler(h))
		admin.GET("/stats", statsHandler(h))
	}
}
