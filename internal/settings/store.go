// Package settings persists the configuration surface between runs and
// builds the immutable per-attempt connection configuration from it.
package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/aituberlink/core/domain/entities"
	"github.com/aituberlink/core/domain/repositories"
	"github.com/aituberlink/core/internal/identity"
)

// Store is a file-backed settings store with environment overrides
// (AITUBER_ prefix, dots replaced by underscores).
type Store struct {
	mu     sync.RWMutex
	v      *viper.Viper
	path   string
	logger *zap.Logger
}

var _ repositories.SettingsStore = (*Store)(nil)

// NewStore loads settings from the YAML file at path, creating defaults
// when the file does not exist yet.
func NewStore(path string, logger *zap.Logger) (*Store, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("AITUBER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read settings file: %w", err)
		}
		logger.Info("No settings file yet, using defaults", zap.String("path", path))
	}

	return &Store{v: v, path: path, logger: logger}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "localhost")
	v.SetDefault("port", 1883)
	v.SetDefault("transport", string(entities.TransportTCP))
	v.SetDefault("tunnel_path", "/mqtt")
	v.SetDefault("client_id", "")
	v.SetDefault("username", "")
	v.SetDefault("password", "")
	v.SetDefault("secure", false)

	v.SetDefault("reconnect_enabled", true)
	v.SetDefault("reconnect_initial_ms", 1000)
	v.SetDefault("reconnect_max_delay_ms", 30000)
	v.SetDefault("reconnect_max_attempts", 0)

	v.SetDefault("send_mode", string(entities.SendModeDirect))
	v.SetDefault("default_kind", string(entities.KindSpeech))
	v.SetDefault("default_priority", string(entities.PriorityMedium))
	v.SetDefault("default_emotion", string(entities.EmotionNeutral))
	v.SetDefault("include_timestamp", true)
	v.SetDefault("include_metadata", false)

	v.SetDefault("extra_topics", "")
}

// Get returns a snapshot of the persisted settings.
func (s *Store) Get() entities.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var settings entities.Settings
	if err := s.v.Unmarshal(&settings); err != nil {
		s.logger.Error("Failed to unmarshal settings, using defaults", zap.Error(err))
	}
	return settings
}

// Save persists the given settings to the backing file.
func (s *Store) Save(settings entities.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.v.Set("host", settings.Host)
	s.v.Set("port", settings.Port)
	s.v.Set("transport", settings.Transport)
	s.v.Set("tunnel_path", settings.TunnelPath)
	s.v.Set("client_id", settings.ClientID)
	s.v.Set("username", settings.Username)
	s.v.Set("password", settings.Password)
	s.v.Set("secure", settings.Secure)
	s.v.Set("reconnect_enabled", settings.ReconnectEnabled)
	s.v.Set("reconnect_initial_ms", settings.ReconnectInitialMs)
	s.v.Set("reconnect_max_delay_ms", settings.ReconnectMaxDelayMs)
	s.v.Set("reconnect_max_attempts", settings.ReconnectMaxAttempts)
	s.v.Set("send_mode", settings.SendMode)
	s.v.Set("default_kind", settings.DefaultKind)
	s.v.Set("default_priority", settings.DefaultPriority)
	s.v.Set("default_emotion", settings.DefaultEmotion)
	s.v.Set("include_timestamp", settings.IncludeTimestamp)
	s.v.Set("include_metadata", settings.IncludeMetadata)
	s.v.Set("extra_topics", settings.ExtraTopics)

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create settings directory: %w", err)
		}
	}
	if err := s.v.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}
	return nil
}

// SaveClientID persists only a newly accepted client identifier.
func (s *Store) SaveClientID(clientID string) error {
	settings := s.Get()
	settings.ClientID = clientID
	return s.Save(settings)
}

// BuildConnectionConfig assembles the immutable per-attempt configuration
// from persisted settings, migrating a legacy or absent client identifier
// into canonical form. The migrated identifier is only persisted by the
// caller after the broker accepts it.
func BuildConnectionConfig(s entities.Settings) entities.ConnectionConfig {
	transport := entities.TransportKind(s.Transport)
	if !transport.Valid() {
		transport = entities.TransportTCP
	}

	return entities.ConnectionConfig{
		Host:       s.Host,
		Port:       s.Port,
		Transport:  transport,
		TunnelPath: s.TunnelPath,
		ClientID:   identity.MigrateLegacy(s.ClientID),
		Username:   s.Username,
		Password:   s.Password,
		Secure:     s.Secure,
		Reconnect: entities.ReconnectPolicy{
			Enabled:        s.ReconnectEnabled,
			InitialDelayMs: s.ReconnectInitialMs,
			MaxDelayMs:     maxInt64(s.ReconnectMaxDelayMs, s.ReconnectInitialMs),
			MaxAttempts:    s.ReconnectMaxAttempts,
		},
	}
}

// ExtraTopics splits the comma-separated topic list.
func ExtraTopics(s entities.Settings) []string {
	if strings.TrimSpace(s.ExtraTopics) == "" {
		return nil
	}
	parts := strings.Split(s.ExtraTopics, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
