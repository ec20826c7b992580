package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/LeoCommon/gpsrecorder/pkg/log"
	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"
)

const (
	ProductName             = "gpsrecorder"
	UserdataDirectoryPrefix = "/data/"
	ConfigFolder            = "config/"

	ConfigPathPrefix = ConfigFolder + ProductName + "/"
	ConfigFile       = "config.toml"

	DefaultConfigPath   = UserdataDirectoryPrefix + ConfigPathPrefix + ConfigFile
	DefaultDatabasePath = UserdataDirectoryPrefix + ProductName + "/positions.db"

	DefaultDebugModeValue = false
)

type CLIFlags struct {
	ConfigPath string
	Debug      bool
}

type MainConfig struct {
	Recorder RecorderConfig `toml:"recorder"`
	Device   DeviceConfig   `toml:"device"`
	Storage  StorageConfig  `toml:"storage"`
	Api      ApiConfig      `toml:"api,omitempty"`
	Mqtt     MqttConfig     `toml:"mqtt,omitempty"`
}

type ConfigManager interface {
	lock()
	unlock()
	Verify() error
}

type ConfigManagerKey string

const (
	CMRecorder ConfigManagerKey = "recorder"
	CMDevice   ConfigManagerKey = "device"
	CMStorage  ConfigManagerKey = "storage"
	CMApi      ConfigManagerKey = "api"
	CMMqtt     ConfigManagerKey = "mqtt"
)

type ConfigManagerStore map[ConfigManagerKey]ConfigManager

type Manager struct {
	mu sync.RWMutex

	// The actual config, never share this with other code
	config *MainConfig

	// The config manager store (pointers)
	store ConfigManagerStore

	// The config path
	path string
}

func getManager[T ConfigManager](m *Manager, key ConfigManagerKey) T {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cm, ok := m.store[key].(T)
	if !ok {
		log.Panic("implementation mistake, config section not loaded", zap.String("section", string(key)))
	}
	return cm
}

func (m *Manager) Recorder() *RecorderConfigManager {
	return getManager[*RecorderConfigManager](m, CMRecorder)
}

func (m *Manager) Device() *DeviceConfigManager {
	return getManager[*DeviceConfigManager](m, CMDevice)
}

func (m *Manager) Storage() *StorageConfigManager {
	return getManager[*StorageConfigManager](m, CMStorage)
}

func (m *Manager) Api() *ApiConfigManager {
	return getManager[*ApiConfigManager](m, CMApi)
}

func (m *Manager) Mqtt() *MqttConfigManager {
	return getManager[*MqttConfigManager](m, CMMqtt)
}

// Load reads the config file on top of the defaults. A missing file is accepted
// when acceptEmptyConfig is set, every section is verified afterwards.
func (m *Manager) Load(path string, acceptEmptyConfig bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(path)
	if err == nil {
		if err = toml.Unmarshal(data, m.config); err != nil {
			return fmt.Errorf("failed to unmarshal config file %s: %w", path, err)
		}
	} else if !acceptEmptyConfig || !errors.Is(err, fs.ErrNotExist) {
		return err
	} else {
		log.Warn("config file not found, using defaults", zap.String("path", path))
	}

	m.path = path

	// Each config section manager gets his own locking primitive
	m.store = ConfigManagerStore{
		CMRecorder: NewRecorderConfigManager(&m.config.Recorder, m),
		CMDevice:   NewDeviceConfigManager(&m.config.Device, m),
		CMStorage:  NewStorageConfigManager(&m.config.Storage, m),
		CMApi:      NewApiConfigManager(&m.config.Api, m),
		CMMqtt:     NewMqttConfigManager(&m.config.Mqtt, m),
	}

	// Verify all configs contain the mandatory values
	for key, value := range m.store {
		if err := value.Verify(); err != nil {
			return fmt.Errorf("invalid [%s] section: %w", key, err)
		}
	}

	log.Debug("active config", zap.Any("config", m.config), zap.String("path", m.path))
	return nil
}

// Save locks all configs and writes it to disk
func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, value := range m.store {
		value.lock()
	}

	defer func() {
		for _, value := range m.store {
			value.unlock()
		}
	}()

	// Marshal the config, does not use getters, so no locking => safe
	configData, err := toml.Marshal(m.config)
	if err != nil {
		return err
	}

	if err := os.WriteFile(m.path, configData, 0600); err != nil {
		log.Error("failed to write config file", zap.Error(err))
		return err
	}

	return nil
}

// New returns the config with all defaults applied
func New() *MainConfig {
	return &MainConfig{
		Recorder: RecorderConfig{
			Name:            "gps",
			EmitInterval:    TOMLDuration(10 * time.Second),
			SpeedUnit:       "mph",
			MotionFallback:  true,
			DeviceMotionTTL: TOMLDuration(5 * time.Second),
			StaleTimeout:    TOMLDuration(time.Minute),
		},
		Device: DeviceConfig{
			Name:           "gps",
			PathGlob:       "/dev/serial/by-id/usb-u-blox*",
			BaudRate:       9600,
			DataBits:       8,
			StopBits:       1,
			Parity:         "N",
			ReconnectDelay: TOMLDuration(2 * time.Second),
			Framing:        "legacy",
			Hotplug:        true,
		},
		Storage: StorageConfig{
			Path: DefaultDatabasePath,
		},
		Api: ApiConfig{
			Disabled: true,
			Endpoint: DefaultPositionEndpoint,
		},
		Mqtt: MqttConfig{
			Disabled: true,
			ClientID: ProductName,
			Topic:    DefaultMqttTopic,
			QoS:      1,
		},
	}
}

func NewManager() *Manager {
	return &Manager{
		store:  make(ConfigManagerStore),
		config: New(),
	}
}

func ParseCLIFlags() CLIFlags {
	flags := CLIFlags{}

	flag.StringVar(&flags.ConfigPath, "config", DefaultConfigPath, "relative or absolute path to the config file")
	flag.BoolVar(&flags.Debug, "debug", DefaultDebugModeValue, "true if the debug logging should be enabled")

	flag.Parse()

	return flags
}

type TOMLDuration time.Duration

func (d *TOMLDuration) UnmarshalText(b []byte) error {
	x, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = TOMLDuration(x)
	return nil
}

func (d TOMLDuration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d TOMLDuration) Value() time.Duration {
	return time.Duration(d)
}
