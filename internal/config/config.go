package config

import (
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/y0f/probeboard/internal/checker"
	"github.com/y0f/probeboard/internal/safenet"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Checks   ChecksConfig   `yaml:"checks"`
	Logging  LoggingConfig  `yaml:"logging"`
	Backup   BackupConfig   `yaml:"backup"`

	trustedNets     []net.IPNet
	allowedNetworks []netip.Prefix
}

type ServerConfig struct {
	Listen          string        `yaml:"listen"`
	TLSCert         string        `yaml:"tls_cert"`
	TLSKey          string        `yaml:"tls_key"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	MaxBodySize     int64         `yaml:"max_body_size"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	RateLimitPerSec float64       `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
	TrustedProxies  []string      `yaml:"trusted_proxies"`
}

type DatabaseConfig struct {
	Path                 string        `yaml:"path"`
	MaxReadConns         int           `yaml:"max_read_conns"`
	HistoryRetentionDays int           `yaml:"history_retention_days"` // 0 keeps history forever
	RetentionPeriod      time.Duration `yaml:"retention_period"`
}

type ChecksConfig struct {
	Workers             int            `yaml:"workers"`
	Timeout             time.Duration  `yaml:"timeout"`
	AllowPrivateTargets bool           `yaml:"allow_private_targets"`
	AllowedNetworks     []string       `yaml:"allowed_networks"`
	SkipTLSVerify       bool           `yaml:"skip_tls_verify"`
	ProxyURL            string         `yaml:"proxy_url"`
	Kerberos            KerberosConfig `yaml:"kerberos"`
}

type KerberosConfig struct {
	Krb5Conf string `yaml:"krb5_conf"`
}

// BackupConfig is where export and import look for backups when no file is
// given. An empty bucket disables S3.
type BackupConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"` // S3-compatible stores, e.g. MinIO
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:          "127.0.0.1:8090",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute, // bulk checks hold the request open
			IdleTimeout:     120 * time.Second,
			MaxBodySize:     1 << 20, // 1MB
			RateLimitPerSec: 30,
			RateLimitBurst:  60,
		},
		Database: DatabaseConfig{
			Path:                 "probeboard.db",
			MaxReadConns:         4,
			HistoryRetentionDays: 30,
			RetentionPeriod:      1 * time.Hour,
		},
		Checks: ChecksConfig{
			Workers:             10,
			Timeout:             30 * time.Second,
			AllowPrivateTargets: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the YAML file at path over the defaults. A missing file is only
// an error when optional is false.
func Load(path string, optional bool) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if optional && os.IsNotExist(err) {
			return cfg, cfg.finish()
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) finish() error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	nets, err := parseTrustedProxies(c.Server.TrustedProxies)
	if err != nil {
		return fmt.Errorf("parse trusted_proxies: %w", err)
	}
	c.trustedNets = nets

	allowed, err := safenet.ParsePrefixes(c.Checks.AllowedNetworks)
	if err != nil {
		return fmt.Errorf("parse checks.allowed_networks: %w", err)
	}
	c.allowedNetworks = allowed
	return nil
}

func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateChecks(); err != nil {
		return err
	}
	if err := c.validateBackup(); err != nil {
		return err
	}
	if err := validateLogFormat(c.Logging.Format); err != nil {
		return err
	}
	return validateLogLevel(c.Logging.Level)
}

func (c *Config) validateServer() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}
	if c.Server.MaxBodySize <= 0 {
		return fmt.Errorf("server.max_body_size must be positive")
	}
	if c.Server.RateLimitPerSec <= 0 {
		return fmt.Errorf("server.rate_limit_per_sec must be positive")
	}
	if c.Server.RateLimitBurst <= 0 {
		return fmt.Errorf("server.rate_limit_burst must be positive")
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		return fmt.Errorf("server.tls_cert and server.tls_key must be set together")
	}
	return nil
}

func (c *Config) validateDatabase() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Database.MaxReadConns <= 0 {
		return fmt.Errorf("database.max_read_conns must be positive")
	}
	if c.Database.HistoryRetentionDays < 0 {
		return fmt.Errorf("database.history_retention_days must not be negative")
	}
	if c.Database.HistoryRetentionDays > 0 && c.Database.RetentionPeriod < time.Minute {
		return fmt.Errorf("database.retention_period must be at least 1m")
	}
	return nil
}

func (c *Config) validateChecks() error {
	if c.Checks.Workers <= 0 {
		return fmt.Errorf("checks.workers must be positive")
	}
	if c.Checks.Timeout <= 0 {
		return fmt.Errorf("checks.timeout must be positive")
	}
	if err := checker.ValidateProxyURL(c.Checks.ProxyURL); err != nil {
		return fmt.Errorf("checks.proxy_url: %w", err)
	}
	if _, err := safenet.ParsePrefixes(c.Checks.AllowedNetworks); err != nil {
		return fmt.Errorf("checks.allowed_networks: %w", err)
	}
	if p := c.Checks.Kerberos.Krb5Conf; p != "" {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("checks.kerberos.krb5_conf: %w", err)
		}
	}
	return nil
}

func (c *Config) validateBackup() error {
	s3 := c.Backup.S3
	if s3.Bucket == "" && (s3.Prefix != "" || s3.Endpoint != "") {
		return fmt.Errorf("backup.s3.bucket is required when prefix or endpoint is set")
	}
	if s3.Endpoint != "" {
		u, err := url.Parse(s3.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("backup.s3.endpoint must be an http(s) URL")
		}
	}
	return nil
}

func validateLogLevel(level string) error {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
}

func validateLogFormat(format string) error {
	switch strings.ToLower(format) {
	case "", "text", "json":
		return nil
	default:
		return fmt.Errorf("logging.format must be one of: text, json")
	}
}

// Transport builds the outbound checker settings from the checks section.
func (c *Config) Transport() *checker.Transport {
	return &checker.Transport{
		AllowPrivate:       c.Checks.AllowPrivateTargets,
		AllowedNetworks:    c.allowedNetworks,
		InsecureSkipVerify: c.Checks.SkipTLSVerify,
		ProxyURL:           c.Checks.ProxyURL,
		Krb5Conf:           c.Checks.Kerberos.Krb5Conf,
		DialTimeout:        c.Checks.Timeout,
	}
}

func (c *Config) TrustedNets() []net.IPNet {
	return c.trustedNets
}

func parseTrustedProxies(proxies []string) ([]net.IPNet, error) {
	var nets []net.IPNet
	for _, p := range proxies {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.Contains(p, "/") {
			ip := net.ParseIP(p)
			if ip == nil {
				return nil, fmt.Errorf("invalid IP: %s", p)
			}
			if ip.To4() != nil {
				p += "/32"
			} else {
				p += "/128"
			}
		}
		_, ipNet, err := net.ParseCIDR(p)
		if err != nil {
			return nil, fmt.Errorf("invalid CIDR: %s", p)
		}
		nets = append(nets, *ipNet)
	}
	return nets, nil
}
