package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	sig "github.com/tomaslejdung/rigcast/pkg/signal"
)

// parsePort reads a TCP port number
func parsePort(v string) (int, error) {
	p, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q: %w", v, err)
	}
	if p <= 0 || p > 65535 {
		return 0, fmt.Errorf("port %d out of range", p)
	}
	return p, nil
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("Ignoring .env: %v", err)
	}

	port := flag.Int("port", 5178, "Server port")
	verbose := flag.Bool("v", false, "Debug logging")
	flag.Parse()

	// Check for PORT env var (for cloud deployments)
	if envPort := os.Getenv("PORT"); envPort != "" {
		p, err := parsePort(envPort)
		if err != nil {
			log.Printf("Ignoring PORT: %v, using %d", err, *port)
		} else {
			*port = p
		}
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := sig.NewServer(logger)
	addr := fmt.Sprintf(":%d", *port)
	logger.Info("rigcast signal server starting", "addr", addr,
		"endpoint", fmt.Sprintf("ws://localhost%s/ws/rtc?type=Broadcaster&roomId=%s", addr, sig.DefaultRoom))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.StartServer(ctx, addr)
	})
	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				logger.Debug("relay stats", "rooms", server.RoomCount())
			}
		}
	})
	if err := g.Wait(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
