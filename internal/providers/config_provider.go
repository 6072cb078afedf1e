package providers

import (
	"consentsync/internal/structures"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("webServer.host", "127.0.0.1")
	v.SetDefault("webServer.port", 8090)
	v.SetDefault("persistence.saveInterval", "30s")
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.mode", 0644)
	v.SetDefault("cache.size", 32)
	v.SetDefault("backend.driver", "rest")
	v.SetDefault("backend.reachabilityUrl", "https://www.gstatic.com/generate_204")
	v.SetDefault("backend.requestTimeout", "15s")

	v.SetDefault("sync.probeTTL", "10s")
	v.SetDefault("sync.networkTimeout", "5s")
	v.SetDefault("sync.reconnectDelay", "15s")
	setRetryDefaults(v, "sync.probeRetry", "1s", "30s", 4, "7s")

	v.SetDefault("stores.config.cacheTTL", "1h")
	v.SetDefault("stores.config.loadTimeout", "20s")
	v.SetDefault("stores.config.mutationTimeout", "20s")
	setRetryDefaults(v, "stores.config.retry", "1s", "30s", 5, "20s")

	v.SetDefault("stores.consents.cacheTTL", "3h")
	v.SetDefault("stores.consents.loadTimeout", "45s")
	v.SetDefault("stores.consents.mutationTimeout", "30s")
	setRetryDefaults(v, "stores.consents.retry", "1s", "120s", 10, "45s")
}

func setRetryDefaults(v *viper.Viper, prefix, initial, maxDelay string, retries int, attempt string) {
	v.SetDefault(prefix+".initialDelay", initial)
	v.SetDefault(prefix+".maxDelay", maxDelay)
	v.SetDefault(prefix+".maxRetries", retries)
	v.SetDefault(prefix+".backoffFactor", 2.0)
	v.SetDefault(prefix+".maxJitter", "1s")
	v.SetDefault(prefix+".attemptTimeout", attempt)
}

func NewConfigProvider(flags *structures.CliFlags) (*structures.Config, error) {
	var conf structures.Config

	v := viper.New()
	setDefaults(v)

	filename := filepath.Base(flags.ConfigPath)
	v.AddConfigPath(filepath.Dir(flags.ConfigPath))
	v.SetConfigName(strings.TrimSuffix(filename, filepath.Ext(filename)))
	v.SetConfigType("yaml")

	v.BindEnv("logger.level", "CS_LOG_LEVEL")
	v.BindEnv("backend.driver", "CS_BACKEND_DRIVER")
	v.BindEnv("backend.url", "CS_BACKEND_URL")
	v.BindEnv("backend.anonKey", "CS_BACKEND_ANON_KEY")
	v.BindEnv("backend.realtimeUrl", "CS_BACKEND_REALTIME_URL")
	v.BindEnv("sync.offlineMode", "CS_OFFLINE_MODE")
	v.BindEnv("cache.size", "CS_CACHE_SIZE")
	v.BindEnv("persistence.saveInterval", "CS_SAVE_INTERVAL")

	err := v.ReadInConfig()
	if err != nil {
		return nil, err
	}

	err = v.Unmarshal(&conf)
	if err != nil {
		return nil, fmt.Errorf("unable to decode into config struct: %w", err)
	}

	cnfValidator := NewCnfValidator(&conf)
	err = cnfValidator.Validate()
	if err != nil {
		return nil, err
	}

	conf.AppName = "ConsentSync"
	conf.Path = flags.ConfigPath
	conf.Debug = flags.DebugMode

	return &conf, nil
}
