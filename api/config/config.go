package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"
)

const (
	DefaultListenAddr      = "0.0.0.0:8080"
	DefaultLNDTimeout      = 30 * time.Second
	DefaultSessionTTL      = 30 * time.Minute
	DefaultShutdownTimeout = 10 * time.Second
	DefaultNodeRateLimit   = 30
	DefaultEnvFile         = ".env"
)

// Config is the runtime configuration of the API server.
type Config struct {
	ListenAddr       string
	Demo             bool
	LNDURL           string
	LNDMacaroon      string // hex
	LNDInsecure      bool
	LNDTimeout       time.Duration
	LNDRetryAttempts int
	AutoRefresh      time.Duration
	SessionTTL       time.Duration
	AllowedOrigins   []string
	ShutdownTimeout  time.Duration
	// NodeRateLimit is mutating node requests allowed per minute per client.
	NodeRateLimit     int
	Verbose           bool
	SentryDSN         string
	SentryEnvironment string
}

// Load parses args and then applies environment overrides. Variables from
// envFile (default .env) fill in anything the process environment does not set.
// getenv is os.Getenv outside tests.
func Load(args []string, getenv func(string) string) (*Config, error) {
	flags := flag.NewFlagSet("lnguide-api", flag.ContinueOnError)

	envFileFlag := flags.String("env-file", DefaultEnvFile, "Optional dotenv file with environment overrides")
	listenAddrFlag := flags.String("listen-addr", DefaultListenAddr, "Address the HTTP API listens on")
	demoFlag := flags.Bool("demo", false, "Serve built-in demo node data instead of connecting to LND")
	lndURLFlag := flags.String("lnd-url", "", "LND REST base URL, e.g. https://localhost:8080")
	lndMacaroonFlag := flags.String("lnd-macaroon", "", "Hex encoded LND macaroon")
	lndMacaroonPathFlag := flags.String("lnd-macaroon-path", "", "Path to a binary LND macaroon file (used when --lnd-macaroon is empty)")
	lndInsecureFlag := flags.Bool("lnd-insecure", false, "Skip TLS verification for the LND REST endpoint (self-signed certs)")
	lndTimeoutFlag := flags.Duration("lnd-timeout", DefaultLNDTimeout, "Timeout for each LND REST request")
	lndRetryAttemptsFlag := flags.Int("lnd-retry-attempts", 1, "Attempts per LND request; 1 disables retries")
	autoRefreshFlag := flags.Duration("auto-refresh", 0, "Background node data refresh interval; 0 disables")
	sessionTTLFlag := flags.Duration("session-ttl", DefaultSessionTTL, "Idle time after which explainer sessions expire")
	allowedOriginsFlag := flags.StringSlice("allowed-origins", []string{"http://localhost:*", "http://127.0.0.1:*"}, "CORS allowed origins")
	shutdownTimeoutFlag := flags.Duration("shutdown-timeout", DefaultShutdownTimeout, "Maximum time to wait for in-flight requests on shutdown")
	nodeRateLimitFlag := flags.Int("node-rate-limit", DefaultNodeRateLimit, "Mutating node requests per minute per client")
	verboseFlag := flags.Bool("verbose", false, "Enable verbose (debug) logging")
	sentryDSNFlag := flags.String("sentry-dsn", "", "Sentry DSN; error reporting is disabled when empty")

	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	env, err := newEnv(*envFileFlag, flags.Changed("env-file"), getenv)
	if err != nil {
		return nil, err
	}

	if v := env("LISTEN_ADDR"); v != "" {
		*listenAddrFlag = v
	}
	if v := env("LNGUIDE_DEMO"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid LNGUIDE_DEMO: %w", err)
		}
		*demoFlag = b
	}
	if v := env("LND_URL"); v != "" {
		*lndURLFlag = v
	}
	if v := env("LND_MACAROON"); v != "" {
		*lndMacaroonFlag = v
	}
	if v := env("LND_MACAROON_PATH"); v != "" {
		*lndMacaroonPathFlag = v
	}
	if env("LND_INSECURE") == "true" {
		*lndInsecureFlag = true
	}
	if v := env("LND_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid LND_TIMEOUT: %w", err)
		}
		*lndTimeoutFlag = d
	}
	if v := env("LND_RETRY_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid LND_RETRY_ATTEMPTS: %w", err)
		}
		*lndRetryAttemptsFlag = n
	}
	if v := env("AUTO_REFRESH"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid AUTO_REFRESH: %w", err)
		}
		*autoRefreshFlag = d
	}
	if v := env("SESSION_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid SESSION_TTL: %w", err)
		}
		*sessionTTLFlag = d
	}
	if v := env("ALLOWED_ORIGINS"); v != "" {
		*allowedOriginsFlag = splitList(v)
	}
	if v := env("SENTRY_DSN"); v != "" {
		*sentryDSNFlag = v
	}

	cfg := &Config{
		ListenAddr:        *listenAddrFlag,
		Demo:              *demoFlag,
		LNDURL:            strings.TrimSpace(*lndURLFlag),
		LNDMacaroon:       strings.TrimSpace(*lndMacaroonFlag),
		LNDInsecure:       *lndInsecureFlag,
		LNDTimeout:        *lndTimeoutFlag,
		LNDRetryAttempts:  *lndRetryAttemptsFlag,
		AutoRefresh:       *autoRefreshFlag,
		SessionTTL:        *sessionTTLFlag,
		AllowedOrigins:    *allowedOriginsFlag,
		ShutdownTimeout:   *shutdownTimeoutFlag,
		NodeRateLimit:     *nodeRateLimitFlag,
		Verbose:           *verboseFlag,
		SentryDSN:         *sentryDSNFlag,
		SentryEnvironment: env("SENTRY_ENVIRONMENT"),
	}
	if cfg.SentryEnvironment == "" {
		cfg.SentryEnvironment = "development"
	}

	if cfg.LNDMacaroon == "" && *lndMacaroonPathFlag != "" {
		mac, err := ReadMacaroon(*lndMacaroonPathFlag)
		if err != nil {
			return nil, err
		}
		cfg.LNDMacaroon = mac
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) Validate() error {
	if cfg.ListenAddr == "" {
		return errors.New("listen addr is required")
	}
	if cfg.LNDMacaroon != "" {
		if _, err := hex.DecodeString(cfg.LNDMacaroon); err != nil {
			return fmt.Errorf("lnd macaroon must be hex encoded: %w", err)
		}
	}
	if cfg.LNDTimeout <= 0 {
		return errors.New("lnd timeout must be positive")
	}
	if cfg.LNDRetryAttempts < 1 {
		return errors.New("lnd retry attempts must be at least 1")
	}
	if cfg.AutoRefresh < 0 {
		return errors.New("auto refresh must not be negative")
	}
	if cfg.SessionTTL <= 0 {
		return errors.New("session ttl must be positive")
	}
	if cfg.NodeRateLimit <= 0 {
		return errors.New("node rate limit must be positive")
	}
	return nil
}

// HasNodeCredentials reports whether a real node can be connected at startup.
func (cfg *Config) HasNodeCredentials() bool {
	return cfg.LNDURL != "" && cfg.LNDMacaroon != ""
}

// ReadMacaroon reads a binary macaroon file and returns it hex encoded.
func ReadMacaroon(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read macaroon: %w", err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("macaroon file %s is empty", path)
	}
	return hex.EncodeToString(data), nil
}

// newEnv layers the process environment over the dotenv file. A missing
// default file is ignored; a missing file named on the command line is not.
func newEnv(path string, explicit bool, getenv func(string) string) (func(string) string, error) {
	fileVars, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			fileVars = nil
		} else {
			return nil, fmt.Errorf("failed to load env file %s: %w", path, err)
		}
	}
	return func(key string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return fileVars[key]
	}, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
