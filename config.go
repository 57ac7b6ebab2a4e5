package workersql

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/workersql/workersql-go/dsn"
	"github.com/workersql/workersql-go/transport"
)

// Defaults applied by New for zero-value Config fields.
const (
	DefaultTimeout       = 30 * time.Second
	DefaultRetryAttempts = 3
	DefaultRetryDelay    = time.Second
)

// ErrConfigMissingEndpoint is returned by New when neither APIEndpoint nor
// Host is set.
var ErrConfigMissingEndpoint = errors.New("workersql: either api_endpoint or host must be set")

// PoolConfig enables connection pooling on the client.
//
// Zero-value fields fall back to the connpool defaults.
type PoolConfig struct {
	MinConnections int           `yaml:"min_connections"`
	MaxConnections int           `yaml:"max_connections"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`

	// HealthCheckInterval is the period of the pool's idle sweep.
	// Zero means the connpool default (one minute); a negative value
	// disables the sweep.
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
}

// Config is the configuration struct for creating a Client.
//
// It can be filled directly, decoded from YAML with ParseConfigYAML, or
// derived from a DSN with ConfigFromDSN.
type Config struct {
	// APIEndpoint is the full endpoint URL, e.g. "https://db.example.com/v1".
	// When empty it is derived from Host, Port, and SSL.
	APIEndpoint string `yaml:"api_endpoint"`

	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	APIKey   string `yaml:"api_key"`

	// SSL only matters when APIEndpoint is derived from Host. nil means on.
	SSL *bool `yaml:"ssl"`

	// Timeout bounds each request and each pooled acquisition.
	Timeout time.Duration `yaml:"timeout"`

	// RetryAttempts is the total number of tries per operation, including
	// the first one. RetryDelay seeds the exponential backoff.
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay"`

	// Pool, when non-nil, makes the client multiplex requests over a
	// connection pool. When nil the client holds a single transport.
	Pool *PoolConfig `yaml:"pool"`

	// Breaker, when non-nil, puts a circuit breaker on the wire.
	Breaker *transport.BreakerConfig `yaml:"breaker"`
}

func (cfg *Config) fillDefaults() error {
	if cfg.APIEndpoint == "" {
		if cfg.Host == "" {
			return ErrConfigMissingEndpoint
		}
		d := dsn.DSN{
			Host:   cfg.Host,
			Port:   cfg.Port,
			Params: map[string]string{},
		}
		if cfg.SSL != nil && !*cfg.SSL {
			d.Params["ssl"] = "false"
		}
		cfg.APIEndpoint = d.APIEndpoint()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = DefaultRetryAttempts
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	return nil
}

// ConfigFromDSN builds a Config from a WorkerSQL DSN string.
//
// Recognized parameters: apiEndpoint, apiKey, ssl, timeout (milliseconds),
// retryAttempts, pooling, minConnections, maxConnections. Pooling is on
// unless pooling=false.
func ConfigFromDSN(raw string) (Config, error) {
	d, err := dsn.Parse(raw)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		APIEndpoint: d.APIEndpoint(),
		Host:        d.Host,
		Port:        d.Port,
		Username:    d.Username,
		Password:    d.Password,
		Database:    d.Database,
		APIKey:      d.Param("apiKey", ""),
	}

	if value := d.Param("timeout", ""); value != "" {
		ms, err := strconv.Atoi(value)
		if err != nil || ms <= 0 {
			return Config{}, fmt.Errorf("workersql: invalid timeout parameter %q", value)
		}
		cfg.Timeout = time.Duration(ms) * time.Millisecond
	}
	if value := d.Param("retryAttempts", ""); value != "" {
		attempts, err := strconv.Atoi(value)
		if err != nil || attempts < 1 {
			return Config{}, fmt.Errorf("workersql: invalid retryAttempts parameter %q", value)
		}
		cfg.RetryAttempts = attempts
	}

	if !strings.EqualFold(d.Param("pooling", "true"), "false") {
		pool := &PoolConfig{}
		if value := d.Param("minConnections", ""); value != "" {
			pool.MinConnections, err = strconv.Atoi(value)
			if err != nil {
				return Config{}, fmt.Errorf("workersql: invalid minConnections parameter %q", value)
			}
		}
		if value := d.Param("maxConnections", ""); value != "" {
			pool.MaxConnections, err = strconv.Atoi(value)
			if err != nil {
				return Config{}, fmt.Errorf("workersql: invalid maxConnections parameter %q", value)
			}
		}
		cfg.Pool = pool
	}
	return cfg, nil
}

type envsubstReader struct {
	buffer bytes.Buffer
	lines  *bufio.Scanner
}

func (r *envsubstReader) Read(buf []byte) (int, error) {
	if r.buffer.Len() > 0 {
		return r.buffer.Read(buf)
	}
	if !r.lines.Scan() {
		return 0, io.EOF
	}
	r.buffer.WriteString(os.ExpandEnv(r.lines.Text()))
	r.buffer.WriteString("\n")
	return r.buffer.Read(buf)
}

// ParseConfigYAML decodes a Config from YAML read from the given Reader.
//
// Environment variables (e.g. $FOO and ${FOO}) are substituted before
// parsing, and unknown keys are rejected.
func ParseConfigYAML(reader io.Reader) (Config, error) {
	dec := yaml.NewDecoder(&envsubstReader{
		lines: bufio.NewScanner(reader),
	})
	dec.SetStrict(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("workersql: decoding config yaml: %w", err)
	}
	return cfg, nil
}

// ParseConfigFile decodes a Config from the YAML file at the given path.
func ParseConfigFile(path string) (Config, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
	default:
		return Config{}, fmt.Errorf("workersql: unsupported config extension %q", filepath.Ext(path))
	}

	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()
	return ParseConfigYAML(f)
}
