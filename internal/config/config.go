// Package config reads the runtime's environment-variable configuration
// once at startup. No third-party configuration framework appears
// anywhere in the examples corpus for this concern (see DESIGN.md), so
// this stays on os.Getenv with explicit defaults, matching the teacher's
// env-var-driven cmd/cli bootstrap.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every environment-variable-derived setting the runtime
// needs to connect to LiveKit, the turn detector, and the C5 interruption
// classifier.
type Config struct {
	LiveKitURL       string
	LiveKitAPIKey    string
	LiveKitAPISecret string

	TurnDetectorModel string

	InterruptDetectorURL       string
	InterruptDetectorAPIKey    string
	InterruptDetectorAPISecret string
	InterruptThreshold         float64
	InterruptMinDurationInS    float64

	LogLevel string

	HTTPTimeout time.Duration

	BackgroundAudioFile   string
	BackgroundAudioVolume float64
}

// Load reads Config from the process environment, applying defaults for
// anything unset. It returns an error only when a required variable
// (LIVEKIT_URL, LIVEKIT_API_KEY, LIVEKIT_API_SECRET) is missing.
func Load() (Config, error) {
	cfg := Config{
		LiveKitURL:       os.Getenv("LIVEKIT_URL"),
		LiveKitAPIKey:    os.Getenv("LIVEKIT_API_KEY"),
		LiveKitAPISecret: os.Getenv("LIVEKIT_API_SECRET"),

		TurnDetectorModel: getenvDefault("TURN_DETECTOR_MODEL", "livekit/turn-detector"),

		InterruptDetectorURL:       os.Getenv("INTERRUPT_DETECTOR_URL"),
		InterruptDetectorAPIKey:    os.Getenv("INTERRUPT_DETECTOR_API_KEY"),
		InterruptDetectorAPISecret: os.Getenv("INTERRUPT_DETECTOR_API_SECRET"),
		InterruptThreshold:         getenvFloatDefault("INTERRUPT_THRESHOLD", 0.5),
		InterruptMinDurationInS:    getenvFloatDefault("INTERRUPT_MIN_DURATION_S", 0.5),

		LogLevel: getenvDefault("LOG_LEVEL", "info"),

		HTTPTimeout: getenvDurationDefault("HTTP_TIMEOUT", 2*time.Second),

		BackgroundAudioFile:   os.Getenv("BACKGROUND_AUDIO_FILE"),
		BackgroundAudioVolume: getenvFloatDefault("BACKGROUND_AUDIO_VOLUME", 0.3),
	}

	var missing []string
	if cfg.LiveKitURL == "" {
		missing = append(missing, "LIVEKIT_URL")
	}
	if cfg.LiveKitAPIKey == "" {
		missing = append(missing, "LIVEKIT_API_KEY")
	}
	if cfg.LiveKitAPISecret == "" {
		missing = append(missing, "LIVEKIT_API_SECRET")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("config: missing required environment variables: %v", missing)
	}
	return cfg, nil
}

func getenvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvFloatDefault(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getenvDurationDefault(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
