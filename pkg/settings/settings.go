package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// UserSettings holds persistable broadcaster preferences
type UserSettings struct {
	SignalURL     string   `json:"signalUrl"`
	Room          string   `json:"room"`
	Sources       []string `json:"sources"`
	PrimarySource string   `json:"primarySource"`
	ActiveSource  string   `json:"activeSource,omitempty"`
	Width         int      `json:"width"`
	Height        int      `json:"height"`
	FPS           int      `json:"fps"`
	Codec         string   `json:"codec"`
	STUN          []string `json:"stun"`
	TURNServer    string   `json:"turnServer,omitempty"`
	TURNUser      string   `json:"turnUser,omitempty"`
	TURNPass      string   `json:"turnPass,omitempty"`
	ForceRelay    bool     `json:"forceRelay"`
}

// DefaultSettings returns the default settings
func DefaultSettings() UserSettings {
	return UserSettings{
		SignalURL:     "ws://127.0.0.1:5178/ws/rtc",
		Room:          "UNITY-1",
		Sources:       []string{"front", "rear", "top"},
		PrimarySource: "front",
		Width:         1280,
		Height:        720,
		FPS:           30,
		Codec:         "vp8",
		STUN:          []string{"stun:stun.l.google.com:19302"},
	}
}

// Path returns the config file path.
// Uses XDG_CONFIG_HOME if set, otherwise the OS user config directory.
func Path() (string, error) {
	var configDir string

	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		configDir = filepath.Join(xdg, "rigcast")
	} else {
		userConfigDir, err := os.UserConfigDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(userConfigDir, "rigcast")
	}

	return filepath.Join(configDir, "config.json"), nil
}

// Load reads settings from the default config file.
func Load() (UserSettings, error) {
	path, err := Path()
	if err != nil {
		return DefaultSettings(), err
	}
	return LoadFrom(path)
}

// LoadFrom reads settings from path.
// Returns default settings if file doesn't exist or is invalid.
func LoadFrom(path string) (UserSettings, error) {
	settings := DefaultSettings()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist - use defaults, not an error
			return settings, nil
		}
		return settings, err
	}

	// Parse JSON, keeping defaults for missing fields
	if err := json.Unmarshal(data, &settings); err != nil {
		return DefaultSettings(), nil
	}
	settings.validate()

	return settings, nil
}

// validate resets out-of-range values to their defaults
func (s *UserSettings) validate() {
	def := DefaultSettings()
	if s.Width <= 0 || s.Height <= 0 {
		s.Width, s.Height = def.Width, def.Height
	}
	if s.FPS <= 0 || s.FPS > 120 {
		s.FPS = def.FPS
	}
	if len(s.STUN) == 0 {
		s.STUN = def.STUN
	}
}

// Save writes settings to the default config file
func Save(settings UserSettings) error {
	path, err := Path()
	if err != nil {
		return err
	}
	return SaveTo(path, settings)
}

// SaveTo writes settings to path
func SaveTo(path string, settings UserSettings) error {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	// Marshal with indentation for readability
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
