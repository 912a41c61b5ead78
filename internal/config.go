package internal

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/koying/jellyfin-ha/internal/api"
	"github.com/koying/jellyfin-ha/internal/database"
	"github.com/koying/jellyfin-ha/internal/jellyfin"
	"github.com/koying/jellyfin-ha/internal/library"
	"github.com/koying/jellyfin-ha/internal/session"
)

// BridgeConfig is the top-level user configuration, loaded from a YAML
// file with environment variable overrides.
type BridgeConfig struct {
	Jellyfin jellyfin.Config `yaml:"jellyfin" env-required:"true"`
	Session  session.Config  `yaml:"session"`
	Library  library.Config  `yaml:"library"`
	Database database.Config `yaml:"database"`
	Rest     api.RestConfig  `yaml:"api"`
}

// LoadFromFile reads the YAML config at the given path into this
// struct, applying env overrides and defaults.
func (config *BridgeConfig) LoadFromFile(configPath string) error {
	if err := cleanenv.ReadConfig(configPath, config); err != nil {
		return fmt.Errorf("failed to load configuration - %v", err.Error())
	}

	return nil
}
