// Package config resolves the server's startup parameters.
// Precedence, lowest first: defaults, .env file, process environment, flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// usageOutput receives the flag defaults when -h is given.
var usageOutput io.Writer = os.Stderr

// Environment variable names.
const (
	EnvFile         = "NIGHTLAND_ENV_FILE"
	EnvAddress      = "NIGHTLAND_ADDRESS"
	EnvPort         = "NIGHTLAND_PORT"
	EnvMaxClients   = "NIGHTLAND_MAX_CLIENTS"
	EnvTickMillis   = "NIGHTLAND_TICK_MS"
	EnvAcceptBatch  = "NIGHTLAND_ACCEPT_BATCH"
	EnvReadBuffer   = "NIGHTLAND_READ_BUFFER"
	EnvBacklog      = "NIGHTLAND_BACKLOG"
	EnvExplodeEvery = "NIGHTLAND_EXPLODE_EVERY"
	EnvVerbosity    = "NIGHTLAND_VERBOSITY"
	EnvLogJSON      = "NIGHTLAND_LOG_JSON"
	EnvHTTPAddr     = "NIGHTLAND_HTTP_ADDR"
	EnvJournal      = "NIGHTLAND_JOURNAL"
	EnvSummaryEvery = "NIGHTLAND_SUMMARY_EVERY"
)

// Config holds every tunable the server reads at startup.
type Config struct {
	Address        string
	Port           int
	MaxClients     int
	TickPeriod     time.Duration
	AcceptBatch    int
	ReadBufferSize int
	Backlog        int
	ExplodeEvery   int

	Verbosity int
	LogJSON   bool

	// HTTPAddr serves metrics and the spectator websocket. Empty disables it.
	HTTPAddr string
	// JournalPath enables the sqlite event journal. Empty disables it.
	JournalPath string
	// SummaryEvery logs a metrics digest every N ticks. Zero disables it.
	SummaryEvery int
}

// Default returns the built-in server settings.
func Default() Config {
	return Config{
		Address:        "127.0.0.1",
		Port:           4096,
		MaxClients:     10,
		TickPeriod:     100 * time.Millisecond,
		AcceptBatch:    1,
		ReadBufferSize: 1024,
		Backlog:        10,
		ExplodeEvery:   5,
		Verbosity:      2,
		SummaryEvery:   600,
	}
}

// Load resolves the configuration for the given command-line arguments
// (without the program name).
func Load(args []string) (Config, error) {
	cfg := Default()

	envPath := ".env"
	if v, ok := os.LookupEnv(EnvFile); ok {
		envPath = v
	}
	fileVals, err := godotenv.Read(envPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("config: read %s: %w", envPath, err)
	}

	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileVals[key]
		return v, ok
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return cfg, err
	}

	if err := cfg.applyFlags(args); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str(EnvAddress, &c.Address)
	str(EnvHTTPAddr, &c.HTTPAddr)
	str(EnvJournal, &c.JournalPath)

	ints := []struct {
		key string
		dst *int
	}{
		{EnvPort, &c.Port},
		{EnvMaxClients, &c.MaxClients},
		{EnvAcceptBatch, &c.AcceptBatch},
		{EnvReadBuffer, &c.ReadBufferSize},
		{EnvBacklog, &c.Backlog},
		{EnvExplodeEvery, &c.ExplodeEvery},
		{EnvVerbosity, &c.Verbosity},
		{EnvSummaryEvery, &c.SummaryEvery},
	}
	for _, f := range ints {
		if err := num(f.key, f.dst); err != nil {
			return err
		}
	}

	tickMillis := int(c.TickPeriod / time.Millisecond)
	if err := num(EnvTickMillis, &tickMillis); err != nil {
		return err
	}
	c.TickPeriod = time.Duration(tickMillis) * time.Millisecond

	if v, ok := lookup(EnvLogJSON); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvLogJSON, err)
		}
		c.LogJSON = b
	}
	return nil
}

func (c *Config) applyFlags(args []string) error {
	fset := flag.NewFlagSet("nightland-server", flag.ContinueOnError)
	fset.SetOutput(io.Discard)

	tickMillis := int(c.TickPeriod / time.Millisecond)

	fset.StringVar(&c.Address, "address", c.Address, "IPv4 address to bind")
	fset.IntVar(&c.Port, "port", c.Port, "TCP port to bind")
	fset.IntVar(&c.MaxClients, "max-clients", c.MaxClients, "size of the connection table")
	fset.IntVar(&tickMillis, "tick-ms", tickMillis, "tick period in milliseconds")
	fset.IntVar(&c.AcceptBatch, "accept-batch", c.AcceptBatch, "connections admitted per tick")
	fset.IntVar(&c.ReadBufferSize, "read-buffer", c.ReadBufferSize, "bytes read per client per tick")
	fset.IntVar(&c.Backlog, "backlog", c.Backlog, "listen backlog")
	fset.IntVar(&c.ExplodeEvery, "explode-every", c.ExplodeEvery, "ticks between world explosions")
	fset.IntVar(&c.Verbosity, "v", c.Verbosity, "log verbosity (2 transport, 3 world, 4 poll, 5 heartbeat, 6 handlers)")
	fset.BoolVar(&c.LogJSON, "log-json", c.LogJSON, "log as JSON")
	fset.StringVar(&c.HTTPAddr, "http", c.HTTPAddr, "metrics and spectator listen address")
	fset.StringVar(&c.JournalPath, "journal", c.JournalPath, "sqlite event journal path")
	fset.IntVar(&c.SummaryEvery, "summary-every", c.SummaryEvery, "ticks between metric digests")

	if err := fset.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(usageOutput, "Usage of nightland-server:")
			fset.SetOutput(usageOutput)
			fset.PrintDefaults()
		}
		return fmt.Errorf("config: %w", err)
	}
	c.TickPeriod = time.Duration(tickMillis) * time.Millisecond
	return nil
}

// Validate rejects values the server cannot start with.
func (c Config) Validate() error {
	switch {
	case c.Port < 0 || c.Port > 65535:
		return fmt.Errorf("config: port %d out of range", c.Port)
	case c.MaxClients <= 0:
		return fmt.Errorf("config: max clients must be positive, got %d", c.MaxClients)
	case c.TickPeriod <= 0:
		return fmt.Errorf("config: tick period must be positive, got %s", c.TickPeriod)
	case c.AcceptBatch <= 0:
		return fmt.Errorf("config: accept batch must be positive, got %d", c.AcceptBatch)
	case c.ReadBufferSize <= 0:
		return fmt.Errorf("config: read buffer must be positive, got %d", c.ReadBufferSize)
	case c.Backlog <= 0:
		return fmt.Errorf("config: backlog must be positive, got %d", c.Backlog)
	case c.ExplodeEvery <= 0:
		return fmt.Errorf("config: explode interval must be positive, got %d", c.ExplodeEvery)
	case c.SummaryEvery < 0:
		return fmt.Errorf("config: summary interval must not be negative, got %d", c.SummaryEvery)
	}
	return nil
}
