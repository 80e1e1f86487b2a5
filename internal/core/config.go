package core

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strconv"

	"github.com/spf13/viper"
)

// Config contains all of the configuration options available to the relay
// server. Every option has a default so the config file is optional.
type Config struct {
	// Hostname or IP address on which the server will listen for connections.
	// Blank listens on every interface.
	Hostname string `mapstructure:"hostname"`

	Logging struct {
		// Minimum level of a log required to be written. Options: debug, info, warn, error
		LogLevel string `mapstructure:"log_level"`
		// Full path to file to which logs will be written. Blank will write to stdout.
		LogFilePath string `mapstructure:"log_file_path"`
		// Look up host names for connecting peers when logging accepted connections.
		ResolvePeerNames bool `mapstructure:"resolve_peer_names"`
	} `mapstructure:"logging"`

	Relay struct {
		// Hold delivery until every expected client has connected.
		WaitForRoster bool `mapstructure:"wait_for_roster"`
	} `mapstructure:"relay"`

	Debugging struct {
		// Enable extra info-providing mechanisms for the server.
		Enabled bool `mapstructure:"enabled"`
		// Port on which a pprof server will be started if debug mode is enabled.
		PprofPort int `mapstructure:"pprof_port"`
		// Dump every frame to the log at debug level.
		PacketLoggingEnabled bool `mapstructure:"packet_logging_enabled"`
	} `mapstructure:"debugging"`
}

const configName = "config"

func setDefaults(v *viper.Viper) {
	v.SetDefault("hostname", "")
	v.SetDefault("logging.log_level", "info")
	v.SetDefault("logging.log_file_path", "")
	v.SetDefault("logging.resolve_peer_names", false)
	v.SetDefault("relay.wait_for_roster", true)
	v.SetDefault("debugging.enabled", false)
	v.SetDefault("debugging.pprof_port", 4000)
	v.SetDefault("debugging.packet_logging_enabled", false)
}

// LoadConfig reads config.yaml from configPath if there is one and returns the
// resulting Config. Environment variables are intentionally not consulted.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.AddConfigPath(configPath)
		v.SetConfigName(configName)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config file in %s: %w", filepath.Clean(configPath), err)
			}
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unmarshaling config object: %w", err)
	}
	return config, nil
}

// ListenAddress returns the address the relay should bind to for port.
func (c *Config) ListenAddress(port int) string {
	return net.JoinHostPort(c.Hostname, strconv.Itoa(port))
}
