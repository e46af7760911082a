package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/thitsarsoft/commerce_backend/config"
	"github.com/thitsarsoft/commerce_backend/models"
	"github.com/thitsarsoft/commerce_backend/workflow"
)

const defaultPort = "8080"

func main() {
	logger := config.GetLogger()

	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	db := config.GetDB()
	registry := workflow.BuildHandlerRegistry()
	dispatcher := workflow.NewDispatcher(db, logger, registry)
	commands := workflow.NewStockCommands(db, logger, dispatcher)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	publisher, err := config.NewBrokerPublisherFromEnv()
	if err != nil {
		log.Printf("broker publisher not configured: %v; outbox relay disabled", err)
	} else {
		relay := workflow.NewOutboxRelay(db, logger, publisher)
		if strings.TrimSpace(os.Getenv("RELAY_LEADER_LEASE")) == "1" {
			relay.LeaderLease = config.GetRedisLock()
		}
		go relay.Run(ctx)
	}

	// The integration consumer is only started when a subscription is
	// configured; a command-only deployment runs without it.
	if sub := os.Getenv("PUBSUB_SUBSCRIPTION"); sub != "" {
		consumer := workflow.NewIntegrationConsumer(db, logger, nil)
		go func() {
			if err := consumer.RunPubSubConsumer(ctx, os.Getenv("PUBSUB_TOPIC"), sub); err != nil {
				config.LogError(logger, "main.go", "main", "pubsub consumer stopped", nil, err)
			}
		}()
	}

	router := newRouter(logger, commands)
	server := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	go func() {
		log.Printf("listening on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
