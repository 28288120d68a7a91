// Package config holds the settings of a decide node. Values come from the
// defaults, then DECIDE_* environment variables, then command line flags.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/thechriswalker/go-decide/voting"
)

const envPrefix = "DECIDE_"

type Config struct {
	DataDir   string
	Database  string // sqlite, postgres or memory
	DSN       string
	KeyBits   int
	BaseURL   string
	ReportDir string
	Timezone  string

	HTTPAddr       string
	TrusteeAddr    string
	TrusteeTimeout time.Duration
	// TrusteeToken is sent to remote trustees
	TrusteeToken string
	// TrusteeTokens are accepted by our trustee, empty accepts anything
	TrusteeTokens []string

	// Tokens is the API token table, each entry token:id:name[:admin]
	Tokens []string
}

func Default() *Config {
	return &Config{
		DataDir:        ".decide",
		Database:       "sqlite",
		KeyBits:        voting.DefaultKeyBits,
		BaseURL:        "http://localhost:8000",
		ReportDir:      ".",
		Timezone:       "UTC",
		HTTPAddr:       ":8000",
		TrusteeAddr:    ":9000",
		TrusteeTimeout: 2 * time.Minute,
	}
}

// LoadEnv overrides the config with any DECIDE_* variable that is set
func (c *Config) LoadEnv() error {
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			*dst = v
		}
	}
	list := func(name string, dst *[]string) {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			*dst = splitList(v)
		}
	}
	str("DATA_DIR", &c.DataDir)
	str("DATABASE", &c.Database)
	str("DSN", &c.DSN)
	str("BASE_URL", &c.BaseURL)
	str("REPORT_DIR", &c.ReportDir)
	str("TIMEZONE", &c.Timezone)
	str("HTTP_ADDR", &c.HTTPAddr)
	str("TRUSTEE_ADDR", &c.TrusteeAddr)
	str("TRUSTEE_TOKEN", &c.TrusteeToken)
	list("TRUSTEE_TOKENS", &c.TrusteeTokens)
	list("TOKENS", &c.Tokens)

	if v, ok := os.LookupEnv(envPrefix + "KEYBITS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sKEYBITS: %w", envPrefix, err)
		}
		c.KeyBits = n
	}
	if v, ok := os.LookupEnv(envPrefix + "TRUSTEE_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sTRUSTEE_TIMEOUT: %w", envPrefix, err)
		}
		c.TrusteeTimeout = d
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// BindFlags registers the config as flags. The current values are the flag defaults,
// so call it after LoadEnv.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.DataDir, "data-dir", c.DataDir, "Directory holding the database and trustee keys")
	fs.StringVar(&c.Database, "database", c.Database, "Storage backend: sqlite, postgres or memory")
	fs.StringVar(&c.DSN, "dsn", c.DSN, "Postgres connection string")
	fs.IntVar(&c.KeyBits, "keybits", c.KeyBits, "Bit length of the voting keys")
	fs.StringVar(&c.BaseURL, "base-url", c.BaseURL, "URL identifying this node in a voting's auths")
	fs.StringVar(&c.ReportDir, "report-dir", c.ReportDir, "Directory the result reports are written under")
	fs.StringVar(&c.Timezone, "timezone", c.Timezone, "Timezone of the dates in report names")
	fs.StringVar(&c.HTTPAddr, "http-addr", c.HTTPAddr, "Address of the HTTP API")
	fs.StringVar(&c.TrusteeAddr, "trustee-addr", c.TrusteeAddr, "Address of the trustee gRPC service")
	fs.DurationVar(&c.TrusteeTimeout, "trustee-timeout", c.TrusteeTimeout, "Timeout of a call to a remote trustee")
	fs.StringVar(&c.TrusteeToken, "trustee-token", c.TrusteeToken, "Token sent to remote trustees")
	fs.StringSliceVar(&c.TrusteeTokens, "trustee-tokens", c.TrusteeTokens, "Tokens our trustee accepts")
	fs.StringSliceVar(&c.Tokens, "tokens", c.Tokens, "API tokens as token:id:name[:admin]")
}

// Validate checks the config is usable
func (c *Config) Validate() error {
	var errs []error
	switch c.Database {
	case "sqlite", "memory":
	case "postgres":
		if c.DSN == "" {
			errs = append(errs, errors.New("postgres needs a dsn"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown database %q", c.Database))
	}
	if c.KeyBits < 16 || c.KeyBits > 8192 {
		errs = append(errs, fmt.Errorf("keybits must be between 16 and 8192, got %d", c.KeyBits))
	}
	if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("base url %q is not an absolute url", c.BaseURL))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if c.TrusteeTimeout <= 0 {
		errs = append(errs, errors.New("trustee timeout must be positive"))
	}
	if _, err := c.Actors(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Location is the timezone used for report dates
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// KeyDir is where the local trustee keeps the voting keys
func (c *Config) KeyDir() string {
	return filepath.Join(c.DataDir, "keys")
}

// Actors parses the token table
func (c *Config) Actors() (map[string]voting.Actor, error) {
	out := make(map[string]voting.Actor, len(c.Tokens))
	for _, entry := range c.Tokens {
		token, actor, err := ParseToken(entry)
		if err != nil {
			return nil, err
		}
		if _, dup := out[token]; dup {
			return nil, fmt.Errorf("token %q is listed twice", token)
		}
		out[token] = actor
	}
	return out, nil
}

// ParseToken reads a token:id:name[:admin] entry
func ParseToken(entry string) (string, voting.Actor, error) {
	parts := strings.Split(entry, ":")
	if len(parts) < 3 || len(parts) > 4 || parts[0] == "" {
		return "", voting.Actor{}, fmt.Errorf("token entry %q is not token:id:name[:admin]", entry)
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", voting.Actor{}, fmt.Errorf("token entry %q: bad id: %w", entry, err)
	}
	actor := voting.Actor{ID: id, Name: parts[2]}
	if len(parts) == 4 {
		if parts[3] != "admin" {
			return "", voting.Actor{}, fmt.Errorf("token entry %q: unknown role %q", entry, parts[3])
		}
		actor.Admin = true
	}
	return parts[0], actor, nil
}

// ServiceOptions threads the config into the voting service
func (c *Config) ServiceOptions() ([]voting.ServiceOption, error) {
	loc, err := c.Location()
	if err != nil {
		return nil, err
	}
	return []voting.ServiceOption{
		voting.WithKeyBits(c.KeyBits),
		voting.WithBaseURL(c.BaseURL),
		voting.WithReportDir(c.ReportDir),
		voting.WithLocation(loc),
	}, nil
}
