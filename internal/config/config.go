// Package config provides centralized configuration management.
// This is the SINGLE SOURCE OF TRUTH for all server and game settings.
//
// IMPORTANT: When changing defaults, only modify this file.
// All other parts of the codebase should reference these values.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// SERVER CONFIGURATION
// =============================================================================

// ServerConfig holds HTTP/WebSocket server settings.
type ServerConfig struct {
	Port        int
	CORSOrigins []string // Allowed CORS/WebSocket origins
}

// DefaultServer returns the default server configuration.
func DefaultServer() ServerConfig {
	return ServerConfig{
		Port: 3000,
		CORSOrigins: []string{
			"http://localhost:*",
			"http://127.0.0.1:*",
		},
	}
}

// ServerFromEnv returns server configuration with environment overrides.
func ServerFromEnv() ServerConfig {
	cfg := DefaultServer()
	if p := getEnvInt("PORT", 0); p > 0 {
		cfg.Port = p
	}
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.CORSOrigins = splitAndTrim(origins)
	}
	return cfg
}

// =============================================================================
// AUTH CONFIGURATION
// =============================================================================

// AuthConfig holds JWT settings. An empty Secret is replaced with a
// random per-process secret at startup, which invalidates tokens across
// restarts; set JWT_SECRET in production.
type AuthConfig struct {
	Secret   string
	TokenTTL time.Duration
}

// DefaultAuth returns the default auth configuration.
func DefaultAuth() AuthConfig {
	return AuthConfig{
		TokenTTL: 24 * time.Hour,
	}
}

// AuthFromEnv returns auth configuration with environment overrides.
func AuthFromEnv() AuthConfig {
	cfg := DefaultAuth()
	cfg.Secret = os.Getenv("JWT_SECRET")
	if ttl := getEnvInt("TOKEN_TTL_HOURS", 0); ttl > 0 {
		cfg.TokenTTL = time.Duration(ttl) * time.Hour
	}
	return cfg
}

// =============================================================================
// GAME RESOURCE LIMITS
// =============================================================================

// GameConfig controls engine limits and timing behavior.
type GameConfig struct {
	MaxGames          int           // Hard cap on concurrently registered games
	MaxPlayers        int           // Per-game player cap
	MaxControlPoints  int           // Per-game control point cap
	PositionStale     time.Duration // GPS fixes older than this never qualify
	TickInterval      time.Duration // Authoritative timer resolution
}

// DefaultGame returns the default game configuration.
func DefaultGame() GameConfig {
	return GameConfig{
		MaxGames:         100,
		MaxPlayers:       64,
		MaxControlPoints: 50,
		PositionStale:    15 * time.Second,
		TickInterval:     time.Second,
	}
}

// GameFromEnv returns game configuration with environment overrides.
func GameFromEnv() GameConfig {
	cfg := DefaultGame()
	if v := getEnvInt("MAX_GAMES", 0); v > 0 {
		cfg.MaxGames = v
	}
	if v := getEnvInt("MAX_PLAYERS", 0); v > 0 {
		cfg.MaxPlayers = v
	}
	if v := getEnvInt("MAX_CONTROL_POINTS", 0); v > 0 {
		cfg.MaxControlPoints = v
	}
	if v := getEnvInt("POSITION_STALE_SECONDS", 0); v > 0 {
		cfg.PositionStale = time.Duration(v) * time.Second
	}
	return cfg
}

// =============================================================================
// STORE CONFIGURATION
// =============================================================================

// StoreConfig holds SQLite persistence settings.
type StoreConfig struct {
	Path string // Database file path
}

// DefaultStore returns the default store configuration.
func DefaultStore() StoreConfig {
	return StoreConfig{Path: "milsim.db"}
}

// StoreFromEnv returns store configuration with environment overrides.
func StoreFromEnv() StoreConfig {
	cfg := DefaultStore()
	if p := os.Getenv("DB_PATH"); p != "" {
		cfg.Path = p
	}
	return cfg
}

// =============================================================================
// COMPLETE APP CONFIGURATION
// =============================================================================

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Server ServerConfig
	Auth   AuthConfig
	Game   GameConfig
	Store  StoreConfig
}

// Load returns the complete configuration with environment overrides.
func Load() AppConfig {
	return AppConfig{
		Server: ServerFromEnv(),
		Auth:   AuthFromEnv(),
		Game:   GameFromEnv(),
		Store:  StoreFromEnv(),
	}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
