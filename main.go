package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"
	"github.com/likexian/whois"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"mailprobe/config"
	controller "mailprobe/controllers"
	"mailprobe/metrics"
	"mailprobe/middleware"
	"mailprobe/repository"
	"mailprobe/routes"
	"mailprobe/utils"
	"mailprobe/verifier"
	"mailprobe/worker"
)

func main() {
	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	cfg := config.AppConfig
	utils.InitLogger(cfg.LogLevel, cfg.Environment)

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.Environment,
		}); err != nil {
			logrus.WithError(err).Warn("Sentry initialization failed")
		}
		defer sentry.Flush(2 * time.Second)
	}

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		logrus.Fatalf("Failed to connect to database: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	v := newVerifier(cfg.Probe)

	observers := []worker.RunObserver{metrics.Observer{}}
	var runs controller.RunStore
	if config.DB != nil {
		repo := repository.NewVerificationRepository(config.DB)
		observers = append(observers, repo)
		runs = repo
	}
	scheduler := worker.NewScheduler(ctx, v, cfg.Probe.Workers, observers...)

	// Create Fiber app
	app := fiber.New(fiber.Config{
		BodyLimit:             8 << 20,
		DisableStartupMessage: cfg.Environment == "production",
	})
	app.Use(middleware.CORS(middleware.CORSFromOrigins(cfg.CORSOrigins)))

	storage := middleware.RateLimitStorage(cfg.Redis)
	if storage != nil {
		defer storage.Close()
	}

	routes.SetupRoutes(app, routes.Dependencies{
		Verification: controller.NewVerificationController(scheduler, v.Syntax(), runs),
		Diagnostics: controller.NewDiagnosticsController(v, func(domain string) (string, error) {
			return whois.Whois(domain)
		}, 0),
		LimiterStorage:  storage,
		SubmitPerMinute: cfg.RateLimitSubmit,
	})

	go func() {
		<-ctx.Done()
		logrus.Info("Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			logrus.WithError(err).Error("Server shutdown failed")
		}
	}()

	// Start server
	logrus.Infof("🚀 Server starting on port %s", cfg.ServerPort)
	if err := app.Listen(":" + cfg.ServerPort); err != nil {
		logrus.Fatalf("Failed to start server: %v", err)
	}
}

// newVerifier wires the resolver, the rate-capped SMTP prober and the
// retrying orchestrator from configuration.
func newVerifier(p config.ProbeConfig) *verifier.Verifier {
	var limiter *rate.Limiter
	if p.RatePerSecond > 0 {
		burst := int(p.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(p.RatePerSecond), burst)
	}

	prober := verifier.NewSMTPProber(verifier.SMTPProberConfig{
		HelloName: p.HelloName,
		Port:      p.Port,
		Timeout:   p.Timeout,
		StartTLS:  p.StartTLS,
		Limiter:   limiter,
	})

	syntax := verifier.IsValidAddress
	if p.StrictSyntax {
		syntax = verifier.StrictSyntax
	}

	opts := verifier.DefaultOptions()
	opts.Senders = p.Senders
	opts.MaxRetries = p.MaxRetries
	opts.RetryDelay = p.RetryDelay
	opts.CourtesyDelayMin = p.CourtesyDelayMin
	opts.CourtesyDelayMax = p.CourtesyDelayMax
	opts.Syntax = syntax

	return verifier.New(verifier.NewDNSResolver(p.DNSServers, p.DNSTimeout), prober, opts)
}
