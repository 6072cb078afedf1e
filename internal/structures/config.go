package structures

import "time"

type CliFlags struct {
	ConfigPath string
	DebugMode  bool
}

type Server struct {
	Host string `yaml:"host" validate:"required"`
	Port int    `yaml:"port" validate:"required|uint|min:1"`
}

type Persistence struct {
	FilePath     string        `yaml:"filePath" validate:"required|unixPath"`
	SaveInterval time.Duration `yaml:"saveInterval" validate:"required|min:1"`
}

type LoggerConfig struct {
	Level string `yaml:"level" validate:"required|in:trace,debug,info,warn,error,fatal,panic"`
	Mode  uint32 `yaml:"mode" validate:"required|uint"`
	Dir   string `yaml:"dir" validate:"required|unixPath"`
}

type CacheConfig struct {
	// Size of the in-memory tier in megabytes.
	Size int `yaml:"size" validate:"required|min:1"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

type BackendConfig struct {
	Driver          string        `yaml:"driver" validate:"required|in:rest,memory"`
	URL             string        `yaml:"url"`
	AnonKey         string        `yaml:"anonKey"`
	RealtimeURL     string        `yaml:"realtimeUrl"`
	ReachabilityURL string        `yaml:"reachabilityUrl"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
}

// RetryPolicy mirrors retry.Policy so it can be decoded from YAML.
type RetryPolicy struct {
	InitialDelay   time.Duration `yaml:"initialDelay" validate:"required|min:1"`
	MaxDelay       time.Duration `yaml:"maxDelay" validate:"required|min:1"`
	MaxRetries     int           `yaml:"maxRetries" validate:"min:0"`
	BackoffFactor  float64       `yaml:"backoffFactor" validate:"required"`
	MaxJitter      time.Duration `yaml:"maxJitter" validate:"min:0"`
	AttemptTimeout time.Duration `yaml:"attemptTimeout" validate:"required|min:1"`
}

type SyncConfig struct {
	OfflineMode    bool          `yaml:"offlineMode"`
	ProbeTTL       time.Duration `yaml:"probeTTL" validate:"required|min:1"`
	NetworkTimeout time.Duration `yaml:"networkTimeout" validate:"required|min:1"`
	ProbeRetry     RetryPolicy   `yaml:"probeRetry"`
	ReconnectDelay time.Duration `yaml:"reconnectDelay" validate:"required|min:1"`
}

type StoreConfig struct {
	CacheTTL        time.Duration `yaml:"cacheTTL" validate:"required|min:1"`
	LoadTimeout     time.Duration `yaml:"loadTimeout" validate:"required|min:1"`
	MutationTimeout time.Duration `yaml:"mutationTimeout" validate:"required|min:1"`
	Retry           RetryPolicy   `yaml:"retry"`
}

type StoresConfig struct {
	Config   StoreConfig `yaml:"config"`
	Consents StoreConfig `yaml:"consents"`
}

type Config struct {
	AppName     string
	Debug       bool
	Path        string
	WebServer   Server        `yaml:"webServer"`
	Persistence Persistence   `yaml:"persistence"`
	Logger      LoggerConfig  `yaml:"logger"`
	Cache       CacheConfig   `yaml:"cache"`
	Metrics     MetricsConfig `yaml:"metrics"`
	Backend     BackendConfig `yaml:"backend"`
	Sync        SyncConfig    `yaml:"sync"`
	Stores      StoresConfig  `yaml:"stores"`
}
