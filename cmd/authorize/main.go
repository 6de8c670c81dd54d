package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"content-autoposter/internal/app"
	"content-autoposter/internal/auth"
	"content-autoposter/internal/config"
	"content-autoposter/internal/logger"
	"content-autoposter/internal/telemetry"
	"content-autoposter/middleware"
	"content-autoposter/routes"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	platform := flag.String("platform", cfg.Platform, "tumblr-oauth2 or tumblr-oauth1")
	timeout := flag.Duration("timeout", 10*time.Minute, "how long to wait for the browser callback")
	flag.Parse()
	cfg.Platform = *platform

	logger.InitLogger(cfg)
	if err := cfg.ValidateAuthorize(); err != nil {
		log.Fatal("Invalid configuration: ", err)
	}

	shutdown, err := telemetry.InitTracer(cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		logger.Warn("Tracing disabled", "error", err)
		shutdown = func() {}
	}
	defer shutdown()

	client := &http.Client{Timeout: cfg.RequestTimeout}

	switch cfg.Platform {
	case config.PlatformTumblrOAuth1:
		err = authorizeOAuth1(cfg, client)
	default:
		err = authorizeOAuth2(cfg, client, *timeout)
	}
	if err != nil {
		log.Fatal("Authorization failed: ", err)
	}
}

func authorizeOAuth2(cfg *config.Config, client *http.Client, timeout time.Duration) error {
	resolver := app.NewResolver(cfg, client)
	state := uuid.NewString()
	done := make(chan error, 1)

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.TracingMiddleware(cfg.ServiceName))
	router.Use(middleware.EnrichTrace())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.RateLimit(30, 5))
	routes.SetupCallbackRoutes(router, resolver, state, done)

	srv := &http.Server{
		Addr:    cfg.CallbackAddr,
		Handler: router,
	}
	go func() {
		logger.Info("Callback server listening", "addr", cfg.CallbackAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			done <- fmt.Errorf("callback server: %w", err)
		}
	}()

	fmt.Println("Open this URL in your browser and approve access:")
	fmt.Println()
	fmt.Println("  " + resolver.AuthCodeURL(state))
	fmt.Println()
	fmt.Printf("Waiting for the redirect to %s ...\n", cfg.RedirectURI)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var result error
	select {
	case result = <-done:
	case <-quit:
		result = errors.New("interrupted")
	case <-time.After(timeout):
		result = fmt.Errorf("no callback received within %s", timeout)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("Callback server shutdown", "error", err)
	}

	if result == nil {
		fmt.Printf("Token saved to %s\n", cfg.TokenFile)
	}
	return result
}

func authorizeOAuth1(cfg *config.Config, client *http.Client) error {
	h := &auth.OAuth1Handshake{
		ConsumerKey:     cfg.ConsumerKey,
		ConsumerSecret:  cfg.ConsumerSecret,
		RequestTokenURL: cfg.RequestTokenURL,
		AuthorizeURL:    cfg.OAuth1AuthorizeURL,
		AccessTokenURL:  cfg.AccessTokenURL,
		Client:          client,
	}

	ctx := context.Background()
	tmp, err := h.RequestToken(ctx)
	if err != nil {
		return err
	}

	fmt.Println("Open this URL in your browser and approve access:")
	fmt.Println()
	fmt.Println("  " + h.AuthorizeURLFor(tmp))
	fmt.Println()
	fmt.Print("Enter the oauth_verifier shown after approval: ")

	verifier, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && verifier == "" {
		return fmt.Errorf("read verifier: %w", err)
	}

	final, err := h.AccessToken(ctx, tmp, verifier)
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Println("Add these to your environment:")
	fmt.Printf("TUMBLR_OAUTH_TOKEN=%s\n", final.Token)
	fmt.Printf("TUMBLR_OAUTH_TOKEN_SECRET=%s\n", final.Secret)
	return nil
}
