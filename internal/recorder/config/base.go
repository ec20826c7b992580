package config

import "sync"

// BaseConfigManager guards one config section, every section gets its own lock
type BaseConfigManager[T any] struct {
	mu   sync.RWMutex
	conf *T

	mgr *Manager
}

// C returns the read-only configuration by value
func (a *BaseConfigManager[T]) C() T {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return *a.conf
}

type ConfigModifierFunc[T any] func(c *T)

func (a *BaseConfigManager[T]) Set(setFunc ConfigModifierFunc[T]) {
	a.mu.Lock()
	defer a.mu.Unlock()

	setFunc(a.conf)
}

// Save writes the whole config file, the manager locks every section
func (a *BaseConfigManager[T]) Save() error {
	return a.mgr.Save()
}

func (a *BaseConfigManager[T]) lock() {
	a.mu.Lock()
}

func (a *BaseConfigManager[T]) unlock() {
	a.mu.Unlock()
}
