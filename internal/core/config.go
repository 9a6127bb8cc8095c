package core

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// ProxyMode identifies which (if any) proxy forwarding scheme the server
// trusts for establishing player identity. Exactly one mode is active for
// the lifetime of the server and it is mutually exclusive with direct
// session-server authentication.
type ProxyMode int

const (
	ProxyModeNone ProxyMode = iota
	ProxyModeVelocity
	ProxyModeBungeeCord
)

func (m ProxyMode) String() string {
	switch m {
	case ProxyModeVelocity:
		return "velocity"
	case ProxyModeBungeeCord:
		return "bungeecord"
	default:
		return "none"
	}
}

// Config contains all of the configuration options available to any of the
// server components.
type Config struct {
	// Address and port on which the server will listen for connections.
	BindAddress string `mapstructure:"bind_address"`
	// Message of the day shown in the client's server list.
	MOTD string `mapstructure:"motd"`
	// Maximum number of connected players. Zero disables the limit.
	MaxPlayers int `mapstructure:"max_players"`
	// Whether player identities are verified with the session server.
	OnlineMode bool `mapstructure:"online_mode"`
	// Whether the login handshake negotiates stream encryption.
	Encryption bool `mapstructure:"encryption"`
	// Reject usernames outside the 3-16 char alphanumeric/underscore set.
	StrictUsernames bool `mapstructure:"strict_usernames"`

	Compression struct {
		Enabled bool `mapstructure:"enabled"`
		// Packets with an uncompressed size below this are sent raw.
		Threshold int `mapstructure:"threshold"`
		// Deflate level, 0-9.
		Level int `mapstructure:"level"`
	} `mapstructure:"compression"`

	Proxy struct {
		Enabled bool `mapstructure:"enabled"`

		Velocity struct {
			Enabled bool   `mapstructure:"enabled"`
			Secret  string `mapstructure:"secret"`
		} `mapstructure:"velocity"`

		BungeeCord struct {
			Enabled bool `mapstructure:"enabled"`
		} `mapstructure:"bungeecord"`
	} `mapstructure:"proxy"`

	Auth struct {
		// Base URL of the session server used for hasJoined verification.
		SessionServerURL string `mapstructure:"session_server_url"`
		// Timeout in seconds for session server calls.
		TimeoutSeconds int `mapstructure:"timeout_seconds"`
		// Permit profiles carrying moderation actions to connect.
		AllowBannedPlayers bool `mapstructure:"allow_banned_players"`
		// Moderation actions tolerated when allow_banned_players is set.
		AllowedActions []string `mapstructure:"allowed_actions"`
		// PEM file holding the public key used to verify texture signatures.
		TextureKeyFile string `mapstructure:"texture_key_file"`
	} `mapstructure:"auth"`

	ServerLinks map[string]string `mapstructure:"server_links"`

	Database struct {
		// Path to the sqlite file holding player records.
		Filename string `mapstructure:"filename"`
	} `mapstructure:"database"`

	Logging struct {
		// Minimum level of a log required to be written.
		LogLevel string `mapstructure:"log_level"`
		// File to which logs will be written. Blank writes to stdout.
		LogFilePath string `mapstructure:"log_file_path"`
	} `mapstructure:"logging"`

	Debugging struct {
		// Log decoded packets to the server log.
		PacketLoggingEnabled bool `mapstructure:"packet_logging_enabled"`
	} `mapstructure:"debugging"`
}

const envVarPrefix = "PUMPKIN"

// LoadConfig initializes Viper with the contents of the config file under
// configPath and unmarshals it over the registered defaults.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(configPath)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	setDefaults(v)

	v.SetEnvPrefix(envVarPrefix)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No file is fine; defaults and environment variables apply.
	}

	// This allows us to set nested yaml config options through environment
	// variables. For example, proxy.velocity.secret can be set using
	// PUMPKIN_PROXY_VELOCITY_SECRET.
	for _, k := range v.AllKeys() {
		envVar := strings.ReplaceAll(strings.ToUpper(k), ".", "_")
		if err := v.BindEnv(k, envVarPrefix+"_"+envVar); err != nil {
			return nil, fmt.Errorf("error binding %s to %s: %w", k, envVar, err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return config, config.Validate()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bind_address", "0.0.0.0:25565")
	v.SetDefault("motd", "A Pumpkin Server")
	v.SetDefault("max_players", 20)
	v.SetDefault("online_mode", true)
	v.SetDefault("encryption", true)
	v.SetDefault("strict_usernames", true)
	v.SetDefault("compression.enabled", true)
	v.SetDefault("compression.threshold", 256)
	v.SetDefault("compression.level", 6)
	v.SetDefault("auth.session_server_url", "https://sessionserver.mojang.com")
	v.SetDefault("auth.timeout_seconds", 5)
	v.SetDefault("database.filename", "pumpkin.db")
	v.SetDefault("logging.log_level", "info")
}

// Validate rejects combinations of options the session engine cannot honor.
func (c *Config) Validate() error {
	if c.Compression.Enabled && (c.Compression.Level < 0 || c.Compression.Level > 9) {
		return fmt.Errorf("compression level must be within 0-9, got %d", c.Compression.Level)
	}
	if c.Compression.Enabled && c.Compression.Threshold < 0 {
		return fmt.Errorf("compression threshold must be non-negative, got %d", c.Compression.Threshold)
	}
	if c.MaxPlayers < 0 {
		return fmt.Errorf("max_players must be non-negative, got %d", c.MaxPlayers)
	}
	if c.Proxy.Enabled {
		if c.Proxy.Velocity.Enabled && c.Proxy.BungeeCord.Enabled {
			return errors.New("velocity and bungeecord forwarding are mutually exclusive")
		}
		if !c.Proxy.Velocity.Enabled && !c.Proxy.BungeeCord.Enabled {
			return errors.New("proxy support is enabled but no proxy mode is selected")
		}
		if c.Proxy.Velocity.Enabled && c.Proxy.Velocity.Secret == "" {
			return errors.New("velocity forwarding requires a shared secret")
		}
		if c.OnlineMode {
			return errors.New("proxy forwarding and online mode are mutually exclusive")
		}
	}
	// Without the encryption handshake there is no session hash to verify,
	// so identities would silently degrade to offline synthesis.
	if c.OnlineMode && !c.Encryption {
		return errors.New("online mode requires encryption")
	}
	return nil
}

// ProxyMode collapses the proxy config block into the active trust mode.
func (c *Config) ProxyMode() ProxyMode {
	if !c.Proxy.Enabled {
		return ProxyModeNone
	}
	if c.Proxy.Velocity.Enabled {
		return ProxyModeVelocity
	}
	return ProxyModeBungeeCord
}

// TextureKey reads the configured texture signature verification key file.
func (c *Config) TextureKey() ([]byte, error) {
	if c.Auth.TextureKeyFile == "" {
		return nil, nil
	}
	data, err := os.ReadFile(c.Auth.TextureKeyFile)
	if err != nil {
		return nil, fmt.Errorf("error reading texture key file: %w", err)
	}
	return data, nil
}
