package repositories

import "github.com/aituberlink/core/domain/entities"

// SettingsStore persists the configuration surface between runs.
type SettingsStore interface {
	Get() entities.Settings
	Save(s entities.Settings) error
}
