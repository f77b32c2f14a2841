package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"postdeck/gateway"
	"postdeck/handlers"
	"postdeck/utils"
)

func main() {
	cfg := utils.LoadConfig()
	log.Println("environment: ", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisPool, err := utils.OpenRedisPool(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	defer redisPool.Close()

	env := &handlers.Env{
		Redis:  redisPool,
		Config: cfg,
		Mailer: utils.LogMailer{},
	}

	if cfg.DatabaseURL != "" {
		dbPool, err := utils.OpenDB(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer dbPool.Close()

		if err := utils.Migrate(ctx, dbPool); err != nil {
			log.Fatalf("Failed to migrate database: %v", err)
		}
		env.DB = dbPool
	} else {
		log.Println("DATABASE_URL not set, accounts are disabled")
	}

	if cfg.SendGridAPIKey != "" {
		env.Mailer = utils.NewSendGridMailer(cfg.SendGridAPIKey, cfg.MailFrom)
	} else {
		log.Println("SENDGRID_API_KEY not set, logging mail instead")
	}

	if cfg.GatewayEnabled() {
		endpoints := gateway.DefaultEndpoints(cfg.GatewayURL)
		if cfg.GatewayConfig != "" {
			endpoints, err = gateway.LoadEndpoints(cfg.GatewayConfig, cfg.GatewayURL)
			if err != nil {
				log.Println("error loading gateway config, using defaults:", err)
			}
		}
		env.Gateway = gateway.New(endpoints, nil)
		log.Println("auth gateway: ", endpoints.FacebookLogin)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handlers.NewRouter(env),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Println("Starting server on", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
