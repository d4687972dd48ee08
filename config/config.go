package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StorageAzure  = "azure"
	StorageMemory = "memory"
)

// Config is read once at startup from the environment.
type Config struct {
	StorageMode      string
	ConnectionString string
	BoardsTable      string
	TasksTable       string
	ActivityQueue    string

	RedisConnection string
	StatsCacheTTL   time.Duration
	DeduperTTL      time.Duration
	UpdatesChannel  string

	ActivityWorkers int
	ActivityBuffer  int
	ActivityTimeout time.Duration
	ActivityHandoff time.Duration

	MaxAttempts int

	Auth0Domain   string
	Auth0Audience string
	AuthTestMode  bool

	ListenAddr string
	Pprof      bool
	Debug      bool
	LogFormat  string
}

// Load reads and validates the configuration.
func Load() (Config, error) {
	var errs []error
	c := Config{
		StorageMode:      strings.ToLower(envString("STORAGE_MODE", StorageAzure)),
		ConnectionString: os.Getenv("STORAGE_CONNECTION_STRING"),
		BoardsTable:      envString("BOARDS_TABLE", "boards"),
		TasksTable:       envString("TASKS_TABLE", "tasks"),
		ActivityQueue:    os.Getenv("ACTIVITY_QUEUE"),
		RedisConnection:  os.Getenv("REDIS_CONNECTION_STRING"),
		UpdatesChannel:   envString("BOARD_UPDATES_CHANNEL", "board-updates"),
		Auth0Domain:      os.Getenv("AUTH0_DOMAIN"),
		Auth0Audience:    os.Getenv("AUTH0_AUDIENCE"),
		AuthTestMode:     os.Getenv("AUTH0_TEST_MODE") == "1",
		ListenAddr:       ":" + envString("FUNCTIONS_CUSTOMHANDLER_PORT", "8080"),
		LogFormat:        strings.ToLower(envString("LOG_FORMAT", "text")),
	}

	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	var err error
	c.StatsCacheTTL, err = envDur("STATS_CACHE_TTL", 30*time.Second)
	collect(err)
	c.DeduperTTL, err = envDur("DEDUPER_TTL", 24*time.Hour)
	collect(err)
	c.ActivityWorkers, err = envInt("ACTIVITY_WORKERS", 8)
	collect(err)
	c.ActivityBuffer, err = envInt("ACTIVITY_BUFFER", 1024)
	collect(err)
	c.ActivityTimeout, err = envDur("ACTIVITY_TIMEOUT", 30*time.Second)
	collect(err)
	c.ActivityHandoff, err = envDur("ACTIVITY_HANDOFF_TIMEOUT", 15*time.Millisecond)
	collect(err)
	c.MaxAttempts, err = envInt("MOVE_MAX_ATTEMPTS", 3)
	collect(err)
	c.Pprof, err = envBool("PPROF", false)
	collect(err)
	c.Debug, err = envBool("DEBUG", false)
	collect(err)

	switch c.StorageMode {
	case StorageAzure:
		if c.ConnectionString == "" {
			errs = append(errs, errors.New("missing storage config: STORAGE_CONNECTION_STRING"))
		}
	case StorageMemory:
	default:
		errs = append(errs, fmt.Errorf("invalid STORAGE_MODE %q", c.StorageMode))
	}
	if c.ActivityQueue != "" && c.ConnectionString == "" {
		errs = append(errs, errors.New("ACTIVITY_QUEUE requires STORAGE_CONNECTION_STRING"))
	}
	if c.MaxAttempts < 1 {
		errs = append(errs, errors.New("invalid MOVE_MAX_ATTEMPTS: must be greater than zero"))
	}
	if c.ActivityWorkers < 1 {
		errs = append(errs, errors.New("invalid ACTIVITY_WORKERS: must be greater than zero"))
	}
	if !c.AuthTestMode && (c.Auth0Domain == "" || c.Auth0Audience == "") {
		errs = append(errs, errors.New("missing Auth0 config"))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("invalid LOG_FORMAT %q", c.LogFormat))
	}
	return c, errors.Join(errs...)
}

func envString(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("invalid %s: %w", k, err)
	}
	return n, nil
}

func envDur(k string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("invalid %s: %w", k, err)
	}
	if d < 0 {
		return def, fmt.Errorf("invalid %s: must not be negative", k)
	}
	return d, nil
}

func envBool(k string, def bool) (bool, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("invalid %s: %w", k, err)
	}
	return b, nil
}
