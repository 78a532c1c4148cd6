package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/tomaslejdung/rigcast/pkg/settings"
	sig "github.com/tomaslejdung/rigcast/pkg/signal"
)

// DefaultRelayAddr is where -serve listens
const DefaultRelayAddr = ":5178"

// Config holds runtime configuration
type Config struct {
	settings.UserSettings

	NewRoom     bool
	Serve       bool
	Addr        string
	ListSources bool
	TUI         bool
	Verbose     bool
	SaveConfig  bool
	Help        bool
}

// applyEnv overrides s with RIGCAST_* variables
func applyEnv(s *settings.UserSettings, getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v := getenv(key); v != "" {
			*dst = splitList(v)
		}
	}
	num := func(key string, dst *int) error {
		v := getenv(key)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("RIGCAST_SIGNAL_URL", &s.SignalURL)
	str("RIGCAST_ROOM", &s.Room)
	list("RIGCAST_SOURCES", &s.Sources)
	str("RIGCAST_PRIMARY_SOURCE", &s.PrimarySource)
	str("RIGCAST_ACTIVE_SOURCE", &s.ActiveSource)
	str("RIGCAST_CODEC", &s.Codec)
	list("RIGCAST_STUN", &s.STUN)
	str("RIGCAST_TURN_SERVER", &s.TURNServer)
	str("RIGCAST_TURN_USER", &s.TURNUser)
	str("RIGCAST_TURN_PASS", &s.TURNPass)
	for key, dst := range map[string]*int{
		"RIGCAST_WIDTH":  &s.Width,
		"RIGCAST_HEIGHT": &s.Height,
		"RIGCAST_FPS":    &s.FPS,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}
	if v := getenv("RIGCAST_FORCE_RELAY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("RIGCAST_FORCE_RELAY: %w", err)
		}
		s.ForceRelay = b
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseFlags applies command-line flags on top of base
func parseFlags(args []string, base settings.UserSettings) (Config, error) {
	config := Config{UserSettings: base, Addr: DefaultRelayAddr}
	if port := os.Getenv("PORT"); port != "" {
		config.Addr = ":" + port
	}

	fs := flag.NewFlagSet("rigcast", flag.ContinueOnError)
	fs.Usage = printHelp

	var sources, stun string
	fs.StringVar(&config.SignalURL, "signal", base.SignalURL, "Signaling endpoint URL")
	fs.StringVar(&config.Room, "room", base.Room, "Room id")
	fs.StringVar(&config.Room, "r", base.Room, "Room id (shorthand)")
	fs.BoolVar(&config.NewRoom, "new-room", false, "Broadcast to a freshly generated room id")
	fs.StringVar(&sources, "sources", strings.Join(base.Sources, ","), "Comma-separated capture source names")
	fs.StringVar(&config.PrimarySource, "primary", base.PrimarySource, "Source used when a viewer has not picked one")
	fs.StringVar(&config.ActiveSource, "active", base.ActiveSource, "Platform default source")
	fs.IntVar(&config.Width, "width", base.Width, "Capture width")
	fs.IntVar(&config.Height, "height", base.Height, "Capture height")
	fs.IntVar(&config.FPS, "fps", base.FPS, "Target framerate")
	fs.StringVar(&config.Codec, "codec", base.Codec, "Video codec (vp8|vp9|h264)")
	fs.StringVar(&stun, "stun", strings.Join(base.STUN, ","), "Comma-separated STUN URLs")

	// TURN server flags
	fs.StringVar(&config.TURNServer, "turn", base.TURNServer, "TURN server URL (e.g., turn:turn.example.com:3478)")
	fs.StringVar(&config.TURNUser, "turn-user", base.TURNUser, "TURN server username")
	fs.StringVar(&config.TURNPass, "turn-pass", base.TURNPass, "TURN server password")
	fs.BoolVar(&config.ForceRelay, "force-relay", base.ForceRelay, "Force TURN relay (disable direct P2P)")

	fs.BoolVar(&config.Serve, "serve", false, "Run as signaling relay only")
	fs.BoolVar(&config.Serve, "s", false, "Run as signaling relay only (shorthand)")
	fs.StringVar(&config.Addr, "addr", config.Addr, "Relay listen address")
	fs.BoolVar(&config.ListSources, "list", false, "List configured sources and exit")
	fs.BoolVar(&config.ListSources, "l", false, "List configured sources (shorthand)")
	fs.BoolVar(&config.TUI, "tui", false, "Show the status dashboard")
	fs.BoolVar(&config.Verbose, "v", false, "Debug logging")
	fs.BoolVar(&config.SaveConfig, "save-config", false, "Write the effective settings to the config file")
	fs.BoolVar(&config.Help, "help", false, "Show help")
	fs.BoolVar(&config.Help, "h", false, "Show help (shorthand)")

	if err := fs.Parse(args); err != nil {
		return config, err
	}
	config.Sources = splitList(sources)
	config.STUN = splitList(stun)
	if config.NewRoom {
		config.Room = sig.GenerateRoomID()
	}
	return config, nil
}

// loadConfig layers defaults, the settings file, the environment and flags
func loadConfig(args []string) (Config, error) {
	base, err := settings.Load()
	if err != nil {
		return Config{}, fmt.Errorf("load settings: %w", err)
	}
	if err := applyEnv(&base, os.Getenv); err != nil {
		return Config{}, err
	}
	return parseFlags(args, base)
}
