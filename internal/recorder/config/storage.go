package config

import "errors"

type StorageConfig struct {
	Path     string `toml:"path" comment:"sqlite database file"`
	Disabled bool   `toml:"disabled,omitempty"`
}

type StorageConfigManager struct {
	BaseConfigManager[StorageConfig]
}

func (s *StorageConfigManager) Verify() error {
	if !s.conf.Disabled && s.conf.Path == "" {
		return errors.New("storage enabled but no path specified")
	}

	return nil
}

func NewStorageConfigManager(config *StorageConfig, mgr *Manager) *StorageConfigManager {
	s := StorageConfigManager{}
	s.conf = config
	s.mgr = mgr

	return &s
}
