package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/nightconcept/efficient-downloader/internal/core/downloader"
)

const FileName = "effdl.toml"
const EnvFileName = ".env"

// Environment variables read by ApplyEnv.
const (
	EnvToken          = "EFFDL_TOKEN"
	EnvMaxRedirects   = "EFFDL_MAX_REDIRECTS"
	EnvUserAgent      = "EFFDL_USER_AGENT"
	EnvTimeoutSeconds = "EFFDL_TIMEOUT_SECONDS"
)

// Config represents the effdl.toml file.
type Config struct {
	Download Download          `toml:"download"`
	Headers  map[string]string `toml:"headers,omitempty"`
}

// Download holds the [download] table.
type Download struct {
	MaxRedirects   int    `toml:"max_redirects"`
	UserAgent      string `toml:"user_agent,omitempty"`
	TimeoutSeconds int    `toml:"timeout_seconds,omitempty"`
	HistoryFile    string `toml:"history_file,omitempty"`
}

// Default returns the configuration used when no effdl.toml exists.
func Default() *Config {
	return &Config{
		Download: Download{
			MaxRedirects: downloader.DefaultMaxRedirects,
			UserAgent:    downloader.DefaultUserAgent,
		},
		Headers: make(map[string]string),
	}
}

// Load reads effdl.toml from dirPath. A missing file yields Default().
func Load(dirPath string) (*Config, error) {
	cfg, err := LoadFile(filepath.Join(dirPath, FileName))
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// LoadFile reads the configuration at path. Keys absent from the file keep their defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config %s: %w", path, err)
	}
	if cfg.Headers == nil {
		cfg.Headers = make(map[string]string)
	}
	return cfg, nil
}

// Write marshals cfg into dirPath/effdl.toml, overwriting any existing file.
func Write(dirPath string, cfg *Config) (err error) {
	buf := new(bytes.Buffer)
	if err := toml.NewEncoder(buf).Encode(cfg); err != nil {
		return err
	}

	fullPath := filepath.Join(dirPath, FileName)
	file, err := os.OpenFile(fullPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close %s: %w", fullPath, closeErr)
		}
	}()

	if _, err := file.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write %s: %w", fullPath, err)
	}
	return nil
}

// LoadEnv returns the variables from dirPath/.env overlaid with the effdl variables
// of the process environment. A non-empty process variable wins; an exported but
// empty one leaves the .env value in place.
func LoadEnv(dirPath string) (map[string]string, error) {
	env, err := godotenv.Read(filepath.Join(dirPath, EnvFileName))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read %s: %w", EnvFileName, err)
		}
		env = make(map[string]string)
	}
	for _, key := range []string{EnvToken, EnvMaxRedirects, EnvUserAgent, EnvTimeoutSeconds} {
		if value := os.Getenv(key); value != "" {
			env[key] = value
		}
	}
	return env, nil
}

// ApplyEnv overrides cfg with the effdl variables found in env.
func ApplyEnv(cfg *Config, env map[string]string) error {
	if token := strings.TrimSpace(env[EnvToken]); token != "" {
		if cfg.Headers == nil {
			cfg.Headers = make(map[string]string)
		}
		cfg.Headers["Authorization"] = "Bearer " + token
	}
	if v := env[EnvMaxRedirects]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvMaxRedirects, v, err)
		}
		cfg.Download.MaxRedirects = n
	}
	if v := env[EnvUserAgent]; v != "" {
		cfg.Download.UserAgent = v
	}
	if v := env[EnvTimeoutSeconds]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("invalid %s %q: must be a non-negative number of seconds", EnvTimeoutSeconds, v)
		}
		cfg.Download.TimeoutSeconds = n
	}
	return nil
}

// Options maps the configuration onto downloader options.
// As in downloader.Options, a zero max_redirects means the default and a negative one means no limit.
func (c *Config) Options() downloader.Options {
	return downloader.Options{
		MaxRedirects: c.Download.MaxRedirects,
		UserAgent:    c.Download.UserAgent,
		Timeout:      time.Duration(c.Download.TimeoutSeconds) * time.Second,
	}
}

// LoadEffective builds the configuration used by a command run in dirPath: the file at
// explicitPath (or dirPath/effdl.toml when empty) overridden by .env and the environment.
func LoadEffective(dirPath, explicitPath string) (*Config, error) {
	var cfg *Config
	var err error
	if explicitPath != "" {
		cfg, err = LoadFile(explicitPath)
	} else {
		cfg, err = Load(dirPath)
	}
	if err != nil {
		return nil, err
	}

	env, err := LoadEnv(dirPath)
	if err != nil {
		return nil, err
	}
	if err := ApplyEnv(cfg, env); err != nil {
		return nil, err
	}
	return cfg, nil
}
