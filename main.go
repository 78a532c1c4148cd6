package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/tomaslejdung/rigcast/pkg/broadcast"
	"github.com/tomaslejdung/rigcast/pkg/capture"
	"github.com/tomaslejdung/rigcast/pkg/peer"
	"github.com/tomaslejdung/rigcast/pkg/settings"
	sig "github.com/tomaslejdung/rigcast/pkg/signal"
	"github.com/tomaslejdung/rigcast/pkg/track"
)

func printHelp() {
	fmt.Println(`rigcast - WebRTC broadcaster for rig camera feeds

Usage: rigcast [options]

By default, rigcast joins room ` + sig.DefaultRoom + ` on the signaling endpoint at:
  ` + sig.DefaultURL + `

Each viewer that sends an offer gets its own session on a shared track
for the source it asked for (cameraChange), or the primary source.

Options:
  --signal <url>         Signaling endpoint URL
  --room, -r <id>        Room id
  --new-room             Generate a random room id
  --sources <a,b,c>      Capture source names
  --primary <name>       Source used when a viewer has not picked one
  --active <name>        Platform default source
  --width, --height      Capture resolution (default: 1280x720)
  --fps <rate>           Target framerate (default: 30)
  --codec <name>         vp8, vp9 or h264 (default: vp8)
  --list, -l             List configured sources and exit
  --tui                  Show the status dashboard
  --save-config          Write the effective settings to the config file
  --v                    Debug logging
  --help, -h             Show help

Relay Options:
  --serve, -s            Run as signaling relay only
  --addr <addr>          Relay listen address (default: ` + DefaultRelayAddr + `)

Network Options:
  --stun <a,b>           STUN server URLs
  --turn <url>           TURN server URL (e.g., turn:turn.example.com:3478)
  --turn-user <user>     TURN server username
  --turn-pass <pass>     TURN server password
  --force-relay          Force TURN relay (disable direct P2P connections)

Every option can also be set with a RIGCAST_* environment variable
(RIGCAST_ROOM, RIGCAST_SOURCES, RIGCAST_TURN_SERVER, ...) or a .env file.

Examples:
  rigcast --serve                    # Run a local relay
  rigcast --room LAB-2 --tui         # Broadcast to LAB-2 with a dashboard
  rigcast --sources arm,lift --primary lift`)
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("Ignoring .env: %v", err)
	}

	config, err := loadConfig(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatalf("Invalid configuration: %v", err)
	}

	if config.Help {
		printHelp()
		return
	}

	if config.SaveConfig {
		if err := settings.Save(config.UserSettings); err != nil {
			log.Fatalf("Failed to save settings: %v", err)
		}
		path, _ := settings.Path()
		fmt.Printf("Settings saved to %s\n", path)
	}

	if config.ListSources {
		listSources(os.Stdout, config)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if config.Serve {
		logger := newLogger(os.Stderr, config.Verbose)
		if err := sig.NewServer(logger).StartServer(ctx, config.Addr); err != nil {
			log.Fatalf("Server error: %v", err)
		}
		return
	}

	if config.TUI {
		if err := RunTUI(ctx, config); err != nil {
			log.Fatalf("TUI error: %v", err)
		}
		return
	}

	logger := newLogger(os.Stderr, config.Verbose)
	o, err := newBroadcaster(config, logger)
	if err != nil {
		log.Fatalf("Failed to start broadcaster: %v", err)
	}
	if err := runBroadcaster(ctx, config, o, logger); err != nil {
		log.Fatalf("Broadcaster error: %v", err)
	}
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

func listSources(w io.Writer, config Config) {
	if len(config.Sources) == 0 {
		fmt.Fprintln(w, "No sources configured. Use --sources or RIGCAST_SOURCES.")
		return
	}
	fmt.Fprintln(w, "Configured sources:")
	fmt.Fprintln(w)
	for i, name := range config.Sources {
		marker := ""
		if name == config.PrimarySource {
			marker = " (primary)"
		}
		fmt.Fprintf(w, "  [%d] %s%s\n", i+1, name, marker)
	}
}

// newBroadcaster wires the capture provider, pion and the orchestrator
func newBroadcaster(config Config, logger *slog.Logger) (*broadcast.Orchestrator, error) {
	provider := capture.NewStatic(config.Sources, config.ActiveSource)

	factory, err := peer.NewPionFactory(peer.ICEConfig{
		STUNURLs:   config.STUN,
		TURNServer: config.TURNServer,
		TURNUser:   config.TURNUser,
		TURNPass:   config.TURNPass,
		ForceRelay: config.ForceRelay,
	}, logger)
	if err != nil {
		return nil, err
	}

	return broadcast.New(provider, factory, broadcast.Config{
		PrimarySource: config.PrimarySource,
		Room:          config.Room,
		Tracks: track.Options{
			Width:  config.Width,
			Height: config.Height,
			FPS:    config.FPS,
			Codec:  track.ParseCodec(config.Codec),
			Log:    logger,
		},
		Log: logger,
	}), nil
}

// runBroadcaster connects to the signaling endpoint and serves viewers
// until ctx is cancelled. A failed connect is logged and the process keeps
// running without a channel; there is no reconnect.
func runBroadcaster(ctx context.Context, config Config, o *broadcast.Orchestrator, logger *slog.Logger) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		o.Shutdown()
		return nil
	})

	ch, err := sig.Dial(ctx, sig.Options{URL: config.SignalURL, Room: config.Room, Log: logger})
	if err != nil {
		logger.Error("signaling unavailable, continuing without a channel", "error", err)
		return g.Wait()
	}

	g.Go(func() error {
		if err := o.Run(ctx, ch); err != nil {
			logger.Warn("signaling connection lost", "error", err)
		} else {
			logger.Info("signaling connection closed")
		}
		return nil
	})
	return g.Wait()
}
