package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukerupert/homequest/internal/auth"
	"github.com/dukerupert/homequest/internal/config"
	"github.com/dukerupert/homequest/internal/database"
	"github.com/dukerupert/homequest/internal/logging"
	"github.com/dukerupert/homequest/internal/push"
	"github.com/dukerupert/homequest/internal/retention"
	"github.com/dukerupert/homequest/internal/server"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "vapid-keys":
			vapidKeys()
			return
		case "token":
			devToken(os.Args[2:])
			return
		case "prune":
			prune()
			return
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	srv := server.New(db, cfg, logger)

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	if err := srv.Start(bgCtx); err != nil {
		slog.Error("failed to start background workers", "error", err)
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("homequest starting", "addr", ":"+cfg.Port, "push", cfg.PushEnabled(), "media", cfg.Media.Enabled())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	bgCancel()
	srv.Stop()
}

func vapidKeys() {
	pub, priv, err := push.GenerateVAPIDKeys()
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate VAPID keys: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("HOMEQUEST_VAPID_PUBLIC_KEY=%s\n", pub)
	fmt.Printf("HOMEQUEST_VAPID_PRIVATE_KEY=%s\n", priv)
}

// devToken prints a signed bearer token for local testing.
func devToken(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: homequest token <uid> <email>")
		os.Exit(2)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	token, err := auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer).Issue(args[0], args[1], 24*time.Hour)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}

// prune runs one feed retention pass and exits.
func prune() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	res, err := retention.New(db, cfg.Retention, nil, logger.With("component", "retention")).RunOnce(context.Background())
	if err != nil {
		slog.Error("retention run", "error", err)
		os.Exit(1)
	}
	slog.Info("retention run complete", "households", res.Households, "failed", res.Failed, "feed_deleted", res.FeedDeleted, "changes_deleted", res.ChangesDeleted)
}
