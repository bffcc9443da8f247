package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/mesh-intelligence/smartnotifier/internal/dispatch"
	"github.com/mesh-intelligence/smartnotifier/internal/logging"
	"github.com/mesh-intelligence/smartnotifier/internal/paths"
	"github.com/mesh-intelligence/smartnotifier/pkg/types"
)

const (
	configFileName = "config"
	configFileType = "yaml"
	envPrefix      = "SMARTNOTIFIER"

	cfgKeyBackend          = "backend"
	cfgKeyDataDir          = "data_dir"
	cfgKeyLogLevel         = "log_level"
	cfgKeyLogFormat        = "log_format"
	cfgKeyMonitoredSources = "monitored_sources"
	cfgKeyDefaultSound     = "default_sound"
	cfgKeyTemplateSize     = "template_size"
	cfgKeyWorkers          = "workers"
	cfgKeyQueueSize        = "queue_size"
	cfgKeyCanEmit          = "can_emit"
	cfgKeyMetricsAddr      = "metrics_addr"
	cfgKeyWatch            = "watch"
	cfgKeySoundLabels      = "sound_labels"
)

// defaultConfigYAML is written to config.yaml on first run.
const defaultConfigYAML = `# smartnotifier configuration

# Rule storage: sqlite or flatfile
backend: sqlite

# Data directory (optional; overridable by --data-dir or SMARTNOTIFIER_DATA_DIR)
# data_dir:

log_level: info
log_format: console

# Origins whose notifications are matched against rules
monitored_sources:
  - com.openai.chatgpt

# Sound given to template rows of a new channel (empty: platform default)
default_sound: ""
template_size: 10

# Display titles for sound designators, used to label sinks of rules
# without text
# sound_labels:
#   chime.ogg: Chime

# run: worker pool, emission gate, metrics and rule file watching
workers: 4
queue_size: 256
can_emit: true
# metrics_addr: 127.0.0.1:9464
watch: false
`

// loadConfig reads config.yaml from configDir, creating the directory and
// a default file on first run. Environment variables prefixed with
// SMARTNOTIFIER_ override file values.
func loadConfig(configDir string) (*viper.Viper, error) {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return nil, types.WrapStorage("create config dir", err)
	}
	if err := ensureDefaultConfigFile(configDir); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetDefault(cfgKeyBackend, types.BackendSQLite)
	v.SetDefault(cfgKeyLogLevel, "info")
	v.SetDefault(cfgKeyLogFormat, logging.FormatConsole)
	v.SetDefault(cfgKeyMonitoredSources, []string{dispatch.DefaultMonitoredSource})
	v.SetDefault(cfgKeyDefaultSound, "")
	v.SetDefault(cfgKeyTemplateSize, types.DefaultTemplateSize)
	v.SetDefault(cfgKeyWorkers, dispatch.DefaultWorkers)
	v.SetDefault(cfgKeyQueueSize, dispatch.DefaultQueueSize)
	v.SetDefault(cfgKeyCanEmit, true)
	v.SetDefault(cfgKeyMetricsAddr, "")
	v.SetDefault(cfgKeyWatch, false)

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return v, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	return v, nil
}

// ensureDefaultConfigFile writes the default config.yaml if none exists.
func ensureDefaultConfigFile(configDir string) error {
	path := paths.ConfigFile(configDir)
	_, err := os.Stat(path)
	if err == nil {
		return nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return types.WrapStorage("stat config file", err)
	}
	if err := os.WriteFile(path, []byte(defaultConfigYAML), 0o644); err != nil {
		return types.WrapStorage("write config file", err)
	}
	return nil
}
