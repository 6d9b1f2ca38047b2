package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"nutribin-backend/config"
	"nutribin-backend/internal/account"
	"nutribin-backend/internal/analytics"
	"nutribin-backend/internal/api"
	"nutribin-backend/internal/auth"
	"nutribin-backend/internal/backup"
	"nutribin-backend/internal/content"
	"nutribin-backend/internal/db"
	"nutribin-backend/internal/firmware"
	"nutribin-backend/internal/loginmon"
	"nutribin-backend/internal/logging"
	"nutribin-backend/internal/machine"
	"nutribin-backend/internal/mail"
	"nutribin-backend/internal/mqttbridge"
	"nutribin-backend/internal/notification"
	"nutribin-backend/internal/objstore"
	"nutribin-backend/internal/sms"
	"nutribin-backend/internal/store"
	"nutribin-backend/internal/ticket"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, "nutribin-backend")
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("nutribind exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gormDB, err := db.Init(&cfg.Database, cfg.Log.Level, logger)
	if err != nil {
		return err
	}
	logger.Info("database initialized")

	var webpushOptions *webpush.Options
	if cfg.Push.PublicKey != "" && cfg.Push.PrivateKey != "" {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
	} else {
		logger.Warn("VAPID keys are not configured; machine offline push alerts are disabled")
	}

	smsSender, err := sms.New(cfg.SMS, logger)
	if err != nil {
		return fmt.Errorf("sms: %w", err)
	}
	mailer := mail.NewSMTPSender(cfg.Mail)

	pool := notification.NewWorkerPool(cfg.WorkerPool.Size, gormDB, webpushOptions, mailer, smsSender, logger)
	pool.Start(ctx)

	var objects objstore.Store
	if client, err := objstore.New(cfg.Storage.URL, cfg.Storage.ServiceKey); err == nil {
		objects = client
	} else {
		logger.Warn("object storage disabled", zap.Error(err))
	}

	tokens, err := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	var google auth.IdentityVerifier
	if cfg.Auth.GoogleClientID != "" {
		v, err := auth.NewGoogleVerifier(ctx, cfg.Auth.GoogleClientID)
		if err != nil {
			logger.Warn("google sign-in disabled", zap.Error(err))
		} else {
			google = v
		}
	}

	codes := account.NewCodes(gormDB, pool,
		time.Duration(cfg.Auth.CodeTTLMinutes)*time.Minute,
		time.Duration(cfg.Auth.EmailCodeTTLMin)*time.Minute,
		logger)
	monitor := loginmon.New(gormDB, cfg.Monitor.Window, cfg.Monitor.Threshold, logger)
	accounts := account.NewService(gormDB, codes, tokens, google, monitor, pool, logger)

	machineStore := store.NewGormStore(gormDB)
	machines := machine.NewService(machineStore, logger)
	sweeper := machine.NewSweeper(machineStore, pool, cfg.Machines.SweepInterval, cfg.Machines.OfflineTimeout, logger)
	go sweeper.Run(ctx)

	generator := backup.NewGenerator(gormDB, logger)
	var backupUploads objstore.Store
	if cfg.Backup.Upload {
		backupUploads = objects
	}
	runner := backup.NewRunner(generator, cfg.Backup.Dir, cfg.Backup.Keep, backupUploads, cfg.Storage.Bucket, logger)
	if cfg.Backup.Enabled {
		scheduler, err := backup.NewScheduler(cfg.Backup.Cron, runner, logger)
		if err != nil {
			return err
		}
		scheduler.Start(ctx)
		logger.Info("backup scheduler started", zap.String("cron", cfg.Backup.Cron))
	}

	if cfg.MQTT.Enabled {
		bridge := mqttbridge.New(cfg.MQTT, machines, logger)
		go func() {
			if err := bridge.Run(ctx); err != nil {
				logger.Error("mqtt bridge failed", zap.Error(err))
			}
		}()
	}

	handler := api.NewHandler(api.Deps{
		DB:        gormDB,
		WebPush:   webpushOptions,
		Accounts:  accounts,
		Machines:  machines,
		Tickets:   ticket.NewService(gormDB, pool, logger),
		Content:   content.NewService(gormDB, logger),
		Analytics: analytics.NewService(gormDB),
		Firmware:  firmware.NewService(gormDB, objects, cfg.Storage.FirmwareBucket, time.Duration(cfg.Storage.SignedURLTTLMinute)*time.Minute, logger),
		Backups:   runner,
		Dumper:    generator,
		SMS:       smsSender,
		Log:       logger,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewRouter(handler, tokens, cfg.Server, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info("shutdown signal received, stopping services")
	case err := <-serverErr:
		return fmt.Errorf("HTTP server: %w", err)
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown: %w", err)
	}

	logger.Info("server gracefully stopped")
	return nil
}
