// Package config loads YAML configuration files into structs.
package config

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load config from file into the config struct, config must be a pointer to
// the config struct. Values already set in the struct act as defaults; any key
// can be overridden from the environment with dots replaced by underscores
// (log.level -> LOG_LEVEL).
func Load(file string, config any) error {
	v := viper.New()
	m := make(map[string]any)

	if err := mapstructure.Decode(config, &m); err != nil {
		return fmt.Errorf("mapstructure: %w", err)
	}

	// Defaults rather than a merged map: ReadInConfig replaces merged values,
	// and only known keys are looked up in the environment.
	setDefaults(v, "", m)

	v.SetConfigFile(file)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config from file %s: %w", file, err)
	}
	if err := v.Unmarshal(config, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToTimeHookFunc("2006-01-02T15:04:05Z07:00"),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}

	return nil
}

func setDefaults(v *viper.Viper, prefix string, m map[string]any) {
	for k, val := range m {
		key := strings.ToLower(k)
		if prefix != "" {
			key = prefix + "." + key
		}

		if sub, ok := val.(map[string]any); ok {
			setDefaults(v, key, sub)
			continue
		}

		v.SetDefault(key, val)
	}
}
