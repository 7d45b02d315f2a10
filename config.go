package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/himanshub16/upnext-room/room"
	"github.com/joho/godotenv"
)

type Config struct {
	DBURL         string
	ListenAddr    string
	JWTSecret     []byte
	CredentialTTL time.Duration

	Room    room.Config
	Spotify SpotifyConfig
}

// LoadConfig reads the environment, after loading .env when present.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Println("config: failed to load .env", err)
	}

	cfg := &Config{
		DBURL:      envString("DB_URL", "sqlite://db.sqlite3"),
		ListenAddr: envString("LISTEN_ADDR", ":3000"),
		JWTSecret:  []byte(envString("JWT_SECRET", "secret")),
		Room:       room.DefaultConfig(),
		Spotify: SpotifyConfig{
			ClientID:     os.Getenv("SPOTIFY_CLIENT_ID"),
			ClientSecret: os.Getenv("SPOTIFY_CLIENT_SECRET"),
			RefreshToken: os.Getenv("SPOTIFY_REFRESH_TOKEN"),
			APIURL:       envString("SPOTIFY_API_URL", "https://api.spotify.com"),
			AccountsURL:  envString("SPOTIFY_ACCOUNTS_URL", "https://accounts.spotify.com"),
		},
	}

	var err error
	if cfg.CredentialTTL, err = envDuration("CREDENTIAL_TTL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.Room.RefreshLead, err = envDuration("REFRESH_LEAD", cfg.Room.RefreshLead); err != nil {
		return nil, err
	}
	if cfg.Room.FallbackDuration, err = envDuration("FALLBACK_TRACK_DURATION", cfg.Room.FallbackDuration); err != nil {
		return nil, err
	}
	if cfg.Room.RefreshLead >= cfg.CredentialTTL {
		log.Printf("config: REFRESH_LEAD %s is not below CREDENTIAL_TTL %s, refreshing at half the window",
			cfg.Room.RefreshLead, cfg.CredentialTTL)
	}
	return cfg, nil
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}
