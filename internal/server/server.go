package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"meterpay/internal/auth"
	"meterpay/internal/config"
	"meterpay/internal/creator"
	"meterpay/internal/ledger"
	"meterpay/internal/payment"
	"meterpay/internal/payout"
	"meterpay/internal/session"
	"meterpay/internal/user"
	"meterpay/internal/webhook"
)

type Server struct {
	router *gin.Engine
	db     *sqlx.DB
	config *config.Config
	http   *http.Server
}

func New(db *sqlx.DB, cfg *config.Config, processor payment.Processor) *Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(RequestLoggingMiddleware())
	router.Use(MetricsMiddleware())
	router.Use(RateLimitMiddleware(50, 100))

	userHandler := user.NewHandler(db, cfg.JWTSecret)
	ledgerHandler := ledger.NewHandler(db)
	paymentHandler := payment.NewHandler(db, cfg, processor)
	webhookHandler := webhook.NewHandler(db, cfg.WebhookSecret)
	creatorHandler := creator.NewHandler(db)
	sessionHandler := session.NewHandler(db)
	payoutHandler := payout.NewHandler(db, cfg)

	public := router.Group("/auth")
	{
		public.POST("/register", userHandler.Register)
		public.POST("/login", userHandler.Login)
		public.POST("/refresh", userHandler.RefreshToken)
	}

	// The gateway authenticates with a signature header, not a JWT.
	router.POST("/webhooks/gateway", webhookHandler.Receive)

	authMiddleware := auth.AuthMiddleware(cfg.JWTSecret)
	protected := router.Group("/")
	protected.Use(authMiddleware)
	{
		protected.GET("/me", userHandler.GetMe)

		protected.GET("/wallet", ledgerHandler.GetWallet)
		protected.GET("/wallet/entries", ledgerHandler.ListEntries)

		protected.POST("/payments/intents", paymentHandler.CreateIntent)

		protected.GET("/creators/:creatorID/rate", creatorHandler.GetRate)

		protected.POST("/sessions", sessionHandler.Start)
		protected.POST("/sessions/:sessionID/end", sessionHandler.End)
		protected.GET("/sessions/:sessionID", sessionHandler.Get)
	}

	creators := router.Group("/")
	creators.Use(authMiddleware, auth.RequireRole(auth.RoleCreator))
	{
		creators.PUT("/creators/me/rate", creatorHandler.UpdateRate)
		creators.PUT("/creators/me/payout", creatorHandler.UpdatePayout)

		creators.POST("/withdrawals/intent", payoutHandler.RequestWithdrawal)
		creators.DELETE("/withdrawals/intent", payoutHandler.CancelWithdrawal)
		creators.GET("/withdrawals/intent", payoutHandler.GetIntent)
	}

	admin := router.Group("/admin")
	admin.Use(authMiddleware, auth.RequireRole(auth.RoleAdmin))
	{
		admin.POST("/accounts/:accountID/reserve", ledgerHandler.Reserve)
	}

	scheduler := router.Group("/admin/payouts")
	scheduler.Use(auth.SchedulerSecretMiddleware(cfg.SchedulerSecret))
	{
		scheduler.POST("/run", payoutHandler.RunBatch)
	}

	router.GET("/health", Health)
	router.GET("/metrics", Metrics())
	SetupSwagger(router)

	return &Server{
		router: router,
		db:     db,
		config: cfg,
	}
}

func (s *Server) Start(port string) error {
	s.http = &http.Server{
		Addr:    ":" + port,
		Handler: s.router,
	}
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Gateway-Signature, X-Scheduler-Secret")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
