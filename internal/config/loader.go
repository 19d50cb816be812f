package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"

	"github.com/vircadia/vircadia-world-sub011/internal/build"
	"github.com/vircadia/vircadia-world-sub011/internal/models"
)

// Load creates a new configuration by instantiating a ConfigLoader with the
// provided options and then invoking its Load method.
func Load(opts ...ConfigLoaderOption) (*Config, error) {
	loader := NewConfigLoader(opts...)
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// ConfigLoader is responsible for reading and merging configuration from
// the config file and environment. The internal mutex ensures thread-safety
// when loading the configuration.
type ConfigLoader struct {
	lock       sync.Mutex
	configFile string   // Optional explicit path to the configuration file.
	warnings   []string // Collected warnings during configuration resolution.
}

// ConfigLoaderOption defines a functional option for configuring a ConfigLoader.
type ConfigLoaderOption func(*ConfigLoader)

// WithConfigFile returns a ConfigLoaderOption that sets the configuration
// file path.
func WithConfigFile(configFile string) ConfigLoaderOption {
	return func(l *ConfigLoader) {
		l.configFile = configFile
	}
}

// NewConfigLoader creates a new ConfigLoader instance and applies all given
// options.
func NewConfigLoader(options ...ConfigLoaderOption) *ConfigLoader {
	loader := &ConfigLoader{}
	for _, option := range options {
		option(loader)
	}
	return loader
}

// Load initializes viper, reads the configuration file, and returns a fully
// built and validated Config instance.
func (l *ConfigLoader) Load() (*Config, error) {
	l.lock.Lock()
	defer l.lock.Unlock()

	v := viper.New()
	l.setupViper(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; everything has a default.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var def Definition
	if err := v.Unmarshal(&def); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg, err := l.buildConfig(def)
	if err != nil {
		return nil, fmt.Errorf("failed to build config: %w", err)
	}

	cfg.ConfigUsed = v.ConfigFileUsed()
	cfg.Warnings = l.warnings

	return cfg, nil
}

func (l *ConfigLoader) setupViper(v *viper.Viper) {
	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
	} else {
		v.SetConfigName("worldsync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join(xdg.ConfigHome, build.AppName))
		v.AddConfigPath(filepath.Join("/etc", build.AppName))
	}

	v.SetEnvPrefix("WORLDSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("logFormat", "text")
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 3020)
	v.SetDefault("database.driver", "postgres")
}

// buildConfig transforms the intermediate Definition into a final Config
// structure, applying per-group defaults and validations.
func (l *ConfigLoader) buildConfig(def Definition) (*Config, error) {
	cfg := &Config{
		Global: Global{
			Debug:     def.Debug,
			LogFormat: def.LogFormat,
			Quiet:     def.Quiet,
		},
		Server: Server{
			Host: def.Server.Host,
			Port: def.Server.Port,
		},
		Database: Database{
			Driver: def.Database.Driver,
			DSN:    def.Database.DSN,
		},
	}

	retry, err := l.durationOrDefault("scheduler.captureRetryInterval",
		def.Scheduler.CaptureRetryInterval, DefaultCaptureRetryInterval)
	if err != nil {
		return nil, err
	}
	cfg.Scheduler.CaptureRetryInterval = retry

	for _, gd := range def.Groups {
		group, err := l.buildGroup(gd)
		if err != nil {
			return nil, err
		}
		cfg.Groups = append(cfg.Groups, group)
	}

	if len(cfg.Groups) == 0 {
		l.warnings = append(l.warnings, "no sync groups configured; using default group")
		cfg.Groups = append(cfg.Groups, DefaultGroup())
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (l *ConfigLoader) buildGroup(gd GroupDefinition) (models.SyncGroup, error) {
	group := models.SyncGroup{Name: gd.Name, HistoryKeep: DefaultHistoryKeep}

	if gd.HistoryKeep != nil {
		group.HistoryKeep = *gd.HistoryKeep
	}

	var err error
	if group.TickInterval, err = l.durationOrDefault(
		gd.Name+".tickInterval", gd.TickInterval, DefaultTickInterval); err != nil {
		return group, err
	}
	if group.SnapshotRetention, err = l.durationOrDefault(
		gd.Name+".snapshotRetention", gd.SnapshotRetention, DefaultSnapshotRetention); err != nil {
		return group, err
	}
	if group.AbandonAfter, err = l.durationOrDefault(
		gd.Name+".abandonAfter", gd.AbandonAfter, DefaultAbandonAfter); err != nil {
		return group, err
	}
	if group.SweepInterval, err = l.durationOrDefault(
		gd.Name+".sweepInterval", gd.SweepInterval, DefaultSweepInterval); err != nil {
		return group, err
	}

	return group, nil
}

func (l *ConfigLoader) durationOrDefault(key, raw string, def time.Duration) (time.Duration, error) {
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return d, nil
}

// DefaultGroup returns the group used when none are configured.
func DefaultGroup() models.SyncGroup {
	return models.SyncGroup{
		Name:              "default",
		TickInterval:      DefaultTickInterval,
		SnapshotRetention: DefaultSnapshotRetention,
		AbandonAfter:      DefaultAbandonAfter,
		HistoryKeep:       DefaultHistoryKeep,
		SweepInterval:     DefaultSweepInterval,
	}
}
