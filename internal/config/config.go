package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime settings read from the environment
type Config struct {
	// Telegram bot token. Required for running the bot.
	BotToken string
	// IANA timezone name for the daily broadcast trigger
	Timezone string
	// Wall-clock time of the daily broadcast
	AutosendHour   int
	AutosendMinute int
	// Maximum subscriber-initiated lessons per UTC day
	MaxManualPerDay int
	// Level assigned to new subscribers
	DefaultLevel string
	// Path to the curriculum document
	LessonsFile string
	// Path to the log file ("" disables file logging)
	LogFile string
	// PostgreSQL connection string; empty means local SQLite
	DatabaseURL string
	// SQLite file path when DatabaseURL is empty
	SQLitePath string
	// Telegram IDs allowed to run admin commands
	AdminIDs map[int64]bool
	// Concurrent deliveries during the daily broadcast
	BroadcastConcurrency int
	// Per-delivery transport timeout
	SendTimeout time.Duration
	// Whether a restart consumes the daily manual quota
	RestartCountsAsManual bool
}

// Load reads .env (if present) and builds the configuration. Presence
// of the bot token is checked by the caller, so import-only runs work
// without one.
func Load() *Config {
	// .env отсутствует в проде — это не ошибка
	_ = godotenv.Load()

	cfg := &Config{
		BotToken:              os.Getenv("BOT_TOKEN"),
		Timezone:              envString("TIMEZONE", "UTC"),
		AutosendHour:          envInt("AUTOSEND_HOUR", 6),
		AutosendMinute:        envInt("AUTOSEND_MINUTE", 0),
		MaxManualPerDay:       envInt("MAX_MANUAL_PER_DAY", 2),
		DefaultLevel:          envString("DEFAULT_LEVEL", "A1"),
		LessonsFile:           envString("LESSONS_FILE", "lessons.json"),
		LogFile:               envString("LOG_FILE", "bot.log"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		SQLitePath:            os.Getenv("SQLITE_PATH"),
		AdminIDs:              parseAdminIDs(os.Getenv("ADMIN_IDS")),
		BroadcastConcurrency:  envInt("BROADCAST_CONCURRENCY", 8),
		SendTimeout:           time.Duration(envInt("SEND_TIMEOUT_SECONDS", 30)) * time.Second,
		RestartCountsAsManual: envBool("RESTART_COUNTS_AS_MANUAL", false),
	}
	return cfg
}

// IsAdmin reports whether the given Telegram ID is on the allow-list
func (c *Config) IsAdmin(id int64) bool {
	return c.AdminIDs[id]
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("Warning: invalid value for %s: %q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("Warning: invalid value for %s: %q, using %v", key, v, fallback)
		return fallback
	}
	return b
}

func parseAdminIDs(raw string) map[int64]bool {
	ids := make(map[int64]bool)
	if strings.TrimSpace(raw) == "" {
		return ids
	}
	for _, part := range strings.Split(raw, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			log.Printf("Warning: invalid admin user ID: %s", part)
			continue
		}
		ids[id] = true
	}
	return ids
}
