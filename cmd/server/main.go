package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/fallwatch/fallwatch/internal/alerts"
	"github.com/fallwatch/fallwatch/internal/api"
	"github.com/fallwatch/fallwatch/internal/config"
	"github.com/fallwatch/fallwatch/internal/monitor"
	"github.com/fallwatch/fallwatch/internal/ollama"
	"github.com/fallwatch/fallwatch/internal/pull"
	"github.com/fallwatch/fallwatch/internal/responses"
	"github.com/fallwatch/fallwatch/internal/session"
	"github.com/fallwatch/fallwatch/internal/state"
)

func main() {
	if err := godotenv.Load(); err == nil {
		log.Printf("dotenv loaded")
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sessions := session.NewArbiter()
	armed := state.NewStore()
	responseLog := responses.NewStore(cfg.ResponseRetention)
	pulls := pull.NewCoordinator()
	inference := ollama.NewClient()

	emailSender := alerts.NewEmailSender(cfg.SMTPHost, cfg.SMTPPort)

	var publisher *alerts.Publisher
	if cfg.MQTTBroker != "" {
		publisher, err = alerts.NewPublisher(alerts.PublisherConfig{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
			Topic:    cfg.MQTTTopic,
		})
		if err != nil {
			log.Printf("mqtt_disabled err=%q", err.Error())
			publisher = nil
		} else {
			defer publisher.Close()
		}
	}

	var archive *alerts.Archive
	if cfg.MinioEndpoint != "" {
		archive, err = alerts.NewArchive(alerts.ArchiveConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Printf("snapshot_archive_disabled err=%q", err.Error())
			archive = nil
		}
	}

	dispatcher := alerts.NewDispatcher(emailSender, publisher, archive)

	runner := monitor.NewRunner(armed, responseLog, inference, dispatcher)
	runner.Start(ctx)

	handler := api.NewRouter(cfg, api.Deps{
		Sessions:  sessions,
		State:     armed,
		Responses: responseLog,
		Pulls:     pulls,
		Inference: inference,
		Email:     emailSender,
		Monitor:   runner,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		// Streaming pull responses have no bounded duration, so no write
		// timeout here; slow handlers are bounded by the router timeout.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("fallwatch listening on %s", cfg.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("http server: %v", err)
	}
}
