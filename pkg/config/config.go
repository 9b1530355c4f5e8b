// Package config provides YAML configuration loading for stargate.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ZentaChain/zentalk-stargate/pkg/observability"
	"github.com/ZentaChain/zentalk-stargate/pkg/session"
	"github.com/ZentaChain/zentalk-stargate/pkg/stargate"
	"github.com/ZentaChain/zentalk-stargate/pkg/stargate/fence"
	"github.com/ZentaChain/zentalk-stargate/pkg/stargate/mars"
	"github.com/ZentaChain/zentalk-stargate/pkg/stn"
)

// Transport names
const (
	TransportFence = "fence"
	TransportMars  = "mars"
)

// Config is the root configuration
type Config struct {
	// Transport selects the transport: fence or mars
	Transport string `mapstructure:"transport"`

	Log     observability.LogConfig `mapstructure:"log"`
	Fence   FenceConfig             `mapstructure:"fence"`
	Mars    MarsConfig              `mapstructure:"mars"`
	Session SessionConfig           `mapstructure:"session"`
	API     APIConfig               `mapstructure:"api"`
	Station StationConfig           `mapstructure:"station"`
}

// FenceConfig configures the socket transport
type FenceConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	ResponseTimeout   time.Duration `mapstructure:"response_timeout"`
	DialTimeout       time.Duration `mapstructure:"dial_timeout"`
}

// DNSEntry is one static DNS override
type DNSEntry struct {
	Host string   `mapstructure:"host"`
	IPs  []string `mapstructure:"ips"`
}

// MarsConfig configures the multiplexed transport
type MarsConfig struct {
	LongLinkAddress string        `mapstructure:"long_link_address"`
	LongLinkPort    int           `mapstructure:"long_link_port"`
	ShortLinkPort   int           `mapstructure:"short_link_port"`
	ClientVersion   int           `mapstructure:"client_version"`
	DNS             []DNSEntry    `mapstructure:"dns"`
	TaskTimeout     time.Duration `mapstructure:"task_timeout"`
	NoopInterval    time.Duration `mapstructure:"noop_interval"`
}

// SessionConfig configures the session server
type SessionConfig struct {
	User             string        `mapstructure:"user"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	PurgeInterval    time.Duration `mapstructure:"purge_interval"`
	Expires          time.Duration `mapstructure:"expires"`
	// Confirm holds delivered packages until POST /api/v1/complete
	Confirm bool `mapstructure:"confirm"`
	// StrandedDB is the sqlite file for stranded packages, empty disables it
	StrandedDB  string        `mapstructure:"stranded_db"`
	StrandedTTL time.Duration `mapstructure:"stranded_ttl"`
}

// APIConfig configures the status API
type APIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// StationConfig configures the local station
type StationConfig struct {
	Line  string `mapstructure:"line"`
	Long  string `mapstructure:"long"`
	Short string `mapstructure:"short"`
}

// Default returns a Config populated with defaults
func Default() *Config {
	fc := fence.DefaultConfig()
	nc := stn.DefaultConfig()
	sc := session.DefaultConfig()

	return &Config{
		Transport: TransportFence,
		Log: observability.LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stdout"},
			Rotation: observability.RotationConfig{
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Fence: FenceConfig{
			Host:              "127.0.0.1",
			Port:              9394,
			HeartbeatInterval: fc.HeartbeatInterval,
			ResponseTimeout:   fc.ResponseTimeout,
			DialTimeout:       fc.DialTimeout,
		},
		Mars: MarsConfig{
			LongLinkAddress: mars.DefaultHost,
			LongLinkPort:    mars.DefaultLongLinkPort,
			ShortLinkPort:   mars.DefaultShortLinkPort,
			ClientVersion:   mars.DefaultClientVersion,
			DNS:             []DNSEntry{{Host: mars.DefaultHost, IPs: []string{"127.0.0.1"}}},
			TaskTimeout:     nc.TaskTimeout,
			NoopInterval:    nc.NoopInterval,
		},
		Session: SessionConfig{
			HandshakeTimeout: sc.HandshakeTimeout,
			PurgeInterval:    sc.PurgeInterval,
			Expires:          sc.Expires,
			StrandedTTL:      7 * 24 * time.Hour,
		},
		API: APIConfig{
			Enabled: true,
			Listen:  "127.0.0.1:8088",
		},
		Station: StationConfig{
			Line:  ":9394",
			Long:  ":9395",
			Short: ":8080",
		},
	}
}

// Load reads configuration from path (if non-empty), otherwise it searches
// common locations. Environment variables use the prefix STARGATE with `.`
// and `-` replaced by `_`, for example STARGATE_FENCE_HOST=10.0.0.2.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("STARGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults so env-only configs work
	v.SetDefault("transport", cfg.Transport)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("fence.host", cfg.Fence.Host)
	v.SetDefault("fence.port", cfg.Fence.Port)
	v.SetDefault("fence.heartbeat_interval", cfg.Fence.HeartbeatInterval)
	v.SetDefault("fence.response_timeout", cfg.Fence.ResponseTimeout)
	v.SetDefault("fence.dial_timeout", cfg.Fence.DialTimeout)
	v.SetDefault("mars.long_link_address", cfg.Mars.LongLinkAddress)
	v.SetDefault("mars.long_link_port", cfg.Mars.LongLinkPort)
	v.SetDefault("mars.short_link_port", cfg.Mars.ShortLinkPort)
	v.SetDefault("mars.client_version", cfg.Mars.ClientVersion)
	v.SetDefault("mars.dns", cfg.Mars.DNS)
	v.SetDefault("mars.task_timeout", cfg.Mars.TaskTimeout)
	v.SetDefault("mars.noop_interval", cfg.Mars.NoopInterval)
	v.SetDefault("session.user", cfg.Session.User)
	v.SetDefault("session.handshake_timeout", cfg.Session.HandshakeTimeout)
	v.SetDefault("session.purge_interval", cfg.Session.PurgeInterval)
	v.SetDefault("session.expires", cfg.Session.Expires)
	v.SetDefault("session.confirm", cfg.Session.Confirm)
	v.SetDefault("session.stranded_db", cfg.Session.StrandedDB)
	v.SetDefault("session.stranded_ttl", cfg.Session.StrandedTTL)
	v.SetDefault("api.enabled", cfg.API.Enabled)
	v.SetDefault("api.listen", cfg.API.Listen)
	v.SetDefault("station.line", cfg.Station.Line)
	v.SetDefault("station.long", cfg.Station.Long)
	v.SetDefault("station.short", cfg.Station.Short)

	if path == "" {
		if envPath := os.Getenv("STARGATE_CONFIG"); envPath != "" {
			path = envPath
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("stargate")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".stargate"))
		}
	}

	// a missing config file is fine, defaults and env still apply
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks and normalizes the configuration
func (c *Config) Validate() error {
	c.Transport = strings.ToLower(strings.TrimSpace(c.Transport))
	switch c.Transport {
	case TransportFence:
		if c.Fence.Host == "" || c.Fence.Port <= 0 || c.Fence.Port > 65535 {
			return fmt.Errorf("invalid fence address %q:%d", c.Fence.Host, c.Fence.Port)
		}
	case TransportMars:
		if c.Mars.LongLinkPort <= 0 || c.Mars.LongLinkPort > 65535 ||
			c.Mars.ShortLinkPort <= 0 || c.Mars.ShortLinkPort > 65535 {
			return fmt.Errorf("invalid mars ports %d/%d", c.Mars.LongLinkPort, c.Mars.ShortLinkPort)
		}
	default:
		return fmt.Errorf("invalid transport: %q", c.Transport)
	}

	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}
	return nil
}

// LaunchOptions renders the selected transport section as launch options
func (c *Config) LaunchOptions() stargate.Options {
	if c.Transport == TransportMars {
		dns := make(map[string][]string, len(c.Mars.DNS))
		for _, e := range c.Mars.DNS {
			dns[e.Host] = append(dns[e.Host], e.IPs...)
		}
		return stargate.Options{
			mars.OptLongLinkAddress: c.Mars.LongLinkAddress,
			mars.OptLongLinkPort:    c.Mars.LongLinkPort,
			mars.OptShortLinkPort:   c.Mars.ShortLinkPort,
			mars.OptClientVersion:   c.Mars.ClientVersion,
			mars.OptNewDNS:          dns,
		}
	}
	return stargate.Options{
		"host": c.Fence.Host,
		"port": c.Fence.Port,
	}
}

// FenceTimings returns the socket transport timings
func (c *Config) FenceTimings() fence.Config {
	fc := fence.DefaultConfig()
	if c.Fence.HeartbeatInterval > 0 {
		fc.HeartbeatInterval = c.Fence.HeartbeatInterval
	}
	if c.Fence.ResponseTimeout > 0 {
		fc.ResponseTimeout = c.Fence.ResponseTimeout
	}
	if c.Fence.DialTimeout > 0 {
		fc.DialTimeout = c.Fence.DialTimeout
	}
	return fc
}

// NetworkConfig returns the multiplexer timings. Endpoints come from
// LaunchOptions.
func (c *Config) NetworkConfig() stn.Config {
	nc := stn.DefaultConfig()
	if c.Mars.TaskTimeout > 0 {
		nc.TaskTimeout = c.Mars.TaskTimeout
	}
	if c.Mars.NoopInterval > 0 {
		nc.NoopInterval = c.Mars.NoopInterval
	}
	return nc
}

// SessionTimings returns the session server timings
func (c *Config) SessionTimings() session.Config {
	sc := session.DefaultConfig()
	if c.Session.HandshakeTimeout > 0 {
		sc.HandshakeTimeout = c.Session.HandshakeTimeout
	}
	if c.Session.PurgeInterval > 0 {
		sc.PurgeInterval = c.Session.PurgeInterval
	}
	if c.Session.Expires > 0 {
		sc.Expires = c.Session.Expires
	}
	sc.Confirm = c.Session.Confirm
	return sc
}
