package cmd

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opencourse/ms-go-course-payments/app/controller"
	"github.com/opencourse/ms-go-course-payments/app/provider"
	"github.com/opencourse/ms-go-course-payments/app/repository"
	"github.com/opencourse/ms-go-course-payments/app/service"
	"github.com/opencourse/ms-go-course-payments/app/types"
	"github.com/opencourse/ms-go-course-payments/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) {
	cfg, paymentService, cleanup := mustCreatePaymentService()
	defer cleanup()

	paymentController := controller.NewPaymentController(paymentService)
	adminController := controller.NewAdminController(paymentService)

	e := setupHTTPServer(cfg, paymentController, adminController)

	go func() {
		httpAddr := net.JoinHostPort(cfg.HTTP.Host, cfg.HTTP.Port)
		logrus.WithField("addr", httpAddr).Info("Starting HTTP server")
		if err := e.Start(httpAddr); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("HTTP shutdown error")
	}
}

func setupHTTPServer(
	cfg *config.Config,
	paymentController *controller.PaymentController,
	adminController *controller.AdminController,
) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogRemoteIP:  true,
		LogLatency:   true,
		LogUserAgent: true,
		LogError:     true,
		HandleError:  true,
		LogRequestID: true,
		LogValuesFunc: func(_ echo.Context, v echomiddleware.RequestLoggerValues) error {
			fields := logrus.Fields{
				"remote_ip":  v.RemoteIP,
				"host":       v.Host,
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency":    v.Latency.String(),
				"latency_ns": v.Latency.Nanoseconds(),
				"user_agent": v.UserAgent,
			}
			entry := logrus.WithFields(fields)
			if v.Error != nil {
				entry = entry.WithError(v.Error)
			}
			entry.Info("http_request")
			return nil
		},
	}))
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())

	e.GET("/health", paymentController.Health)

	courses := e.Group("/courses")
	courses.POST("/:courseId/checkout", paymentController.StartCheckout)
	courses.POST("/:courseId/purchase/verify", paymentController.VerifyStripePurchase)
	courses.POST("/:courseId/paypal/verify", paymentController.VerifyPayPalPurchase)

	payments := e.Group("/payments")
	payments.POST("/webhook/:provider", paymentController.HandleWebhook)
	payments.GET("/purchases", paymentController.ListPurchases)
	payments.GET("/courses/:courseId/purchase/status", paymentController.PurchaseStatus)

	admin := e.Group("/admin/payments", requireAdminKey(cfg.App.AdminAPIKey))
	admin.GET("/webhook-events", adminController.ListWebhookEvents)
	admin.POST("/webhook-events/:eventId/retry", adminController.RetryWebhookEvent)

	return e
}

// requireAdminKey gates the operator surface behind the configured API key.
// With no key configured the admin routes are disabled outright.
func requireAdminKey(adminAPIKey string) echo.MiddlewareFunc {
	adminAPIKey = strings.TrimSpace(adminAPIKey)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if adminAPIKey == "" {
				return ctx.JSON(http.StatusNotImplemented, &types.ErrorResponse{Error: "admin api key is not configured"})
			}
			provided := strings.TrimSpace(ctx.Request().Header.Get("X-Admin-Key"))
			if subtle.ConstantTimeCompare([]byte(provided), []byte(adminAPIKey)) != 1 {
				return ctx.JSON(http.StatusUnauthorized, &types.ErrorResponse{Error: "unauthorized"})
			}
			return next(ctx)
		}
	}
}

func mustCreatePaymentService() (*config.Config, *service.PaymentService, func()) {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if err := configureLogging(cfg); err != nil {
		logrus.WithError(err).Fatal("Failed to configure logging")
	}

	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		logrus.WithError(err).Fatal("Failed to ping database")
	}

	courseRepo := repository.NewCourseRepository(db)
	userRepo := repository.NewUserRepository(db)
	purchaseRepo := repository.NewPurchaseRepository(db)
	webhookEventRepo := repository.NewWebhookEventRepository(db)
	reconciliationRepo := repository.NewReconciliationRepository(db)

	stripeProvider := provider.NewStripeProvider(provider.StripeConfig{
		SecretKey:                 cfg.Stripe.SecretKey,
		WebhookSecret:             cfg.Stripe.WebhookSecret,
		SignatureToleranceSeconds: cfg.Stripe.SignatureToleranceSeconds,
		HTTPTimeout:               cfg.Stripe.HTTPTimeout,
	})
	paypalProvider := provider.NewPayPalProvider(provider.PayPalConfig{
		ClientID:     cfg.PayPal.ClientID,
		ClientSecret: cfg.PayPal.ClientSecret,
		Mode:         cfg.PayPal.Mode,
		WebhookID:    cfg.PayPal.WebhookID,
		HTTPTimeout:  cfg.PayPal.HTTPTimeout,
	})

	providerRegistry := provider.NewRegistry(stripeProvider, paypalProvider)
	paymentService := service.NewPaymentService(
		courseRepo,
		userRepo,
		purchaseRepo,
		webhookEventRepo,
		reconciliationRepo,
		providerRegistry,
		cfg.Frontend.BaseURL,
	)

	cleanup := func() {
		_ = db.Close()
	}

	return cfg, paymentService, cleanup
}
