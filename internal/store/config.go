package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	DefaultNamespace = "my-brain-app"
	DefaultOwner     = "local"
	DefaultRelayAddr = "127.0.0.1:7464"
	envPrefix        = "MYBRAIN"
)

type Config struct {
	Namespace string `mapstructure:"namespace" json:"namespace" yaml:"namespace"`
	Owner     string `mapstructure:"owner" json:"owner" yaml:"owner"`
	DataDir   string `mapstructure:"data_dir" json:"dataDir" yaml:"data_dir"`
	LogLevel  string `mapstructure:"log_level" json:"logLevel" yaml:"log_level"`
	// Watch republishes snapshots when other processes write the database.
	Watch bool `mapstructure:"watch" json:"watch" yaml:"watch"`
	// RelayAddr is the listen address of `mybrain serve`.
	RelayAddr string `mapstructure:"relay_addr" json:"relayAddr" yaml:"relay_addr"`
	// RelayURL, when set, makes clients use a relay instead of the local database.
	RelayURL string `mapstructure:"relay_url" json:"relayUrl,omitempty" yaml:"relay_url,omitempty"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-" json:"file,omitempty" yaml:"-"`
}

func ConfigDir() (string, error) {
	// Test/advanced override (keeps unit tests from touching ~/.mybrain).
	if v := strings.TrimSpace(os.Getenv("MYBRAIN_CONFIG_DIR")); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".mybrain"), nil
}

func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func newViper(dir string) *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	v.SetDefault("namespace", DefaultNamespace)
	v.SetDefault("owner", DefaultOwner)
	v.SetDefault("data_dir", filepath.Join(dir, "data"))
	v.SetDefault("log_level", "warn")
	v.SetDefault("watch", true)
	v.SetDefault("relay_addr", DefaultRelayAddr)
	v.SetDefault("relay_url", "")
	return v
}

// LoadConfig reads file, or config.yaml in ConfigDir when file is empty.
// A missing default file is not an error; MYBRAIN_* environment variables
// override file values.
func LoadConfig(file string) (*Config, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	v := newViper(dir)
	if strings.TrimSpace(file) != "" {
		v.SetConfigFile(file)
	} else {
		v.AddConfigPath(dir)
		v.SetConfigName("config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	cfg.Namespace = strings.TrimSpace(cfg.Namespace)
	cfg.Owner = strings.TrimSpace(cfg.Owner)
	return &cfg, nil
}

// WriteConfig writes cfg as YAML to path, creating parent directories.
func WriteConfig(cfg *Config, path string) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	v := viper.New()
	v.SetConfigType("yaml")
	v.Set("namespace", cfg.Namespace)
	v.Set("owner", cfg.Owner)
	v.Set("data_dir", cfg.DataDir)
	v.Set("log_level", cfg.LogLevel)
	v.Set("watch", cfg.Watch)
	v.Set("relay_addr", cfg.RelayAddr)
	if cfg.RelayURL != "" {
		v.Set("relay_url", cfg.RelayURL)
	}
	return v.WriteConfigAs(path)
}
