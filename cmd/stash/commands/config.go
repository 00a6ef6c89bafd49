package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/dyluth/stash/pkg/stash"
	"github.com/dyluth/stash/pkg/store"
)

var (
	flagConfig string
	flagRedis  string
	flagBolt   string
	flagDir    string
	flagPrefix string
)

// cliConfig is the .stash.yml file format. Flags override file values.
type cliConfig struct {
	Redis  string `yaml:"redis,omitempty"`
	Bolt   string `yaml:"bolt,omitempty"`
	Dir    string `yaml:"dir,omitempty"`
	Prefix string `yaml:"prefix,omitempty"`
}

const defaultConfigFile = ".stash.yml"

func loadConfig() (*cliConfig, error) {
	path := flagConfig
	optional := false
	if path == "" {
		path = defaultConfigFile
		optional = true
	}

	cfg := &cliConfig{}
	data, err := os.ReadFile(path)
	if err != nil {
		if optional && os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %q: %w", path, err)
	}
	return cfg, nil
}

// resolveBackend merges flags over the config file and opens the selected
// store. Exactly one backend must be selected. The returned closer is nil
// for backends without connections to release.
func resolveBackend() (store.Store, io.Closer, string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, "", err
	}

	if flagRedis != "" {
		cfg.Redis = flagRedis
		cfg.Bolt, cfg.Dir = "", ""
	}
	if flagBolt != "" {
		cfg.Bolt = flagBolt
		cfg.Redis, cfg.Dir = "", ""
	}
	if flagDir != "" {
		cfg.Dir = flagDir
		cfg.Redis, cfg.Bolt = "", ""
	}
	if flagPrefix != "" {
		cfg.Prefix = flagPrefix
	}
	if cfg.Prefix == "" {
		cfg.Prefix = stash.DefaultKeyPrefix
	}

	selected := 0
	for _, v := range []string{cfg.Redis, cfg.Bolt, cfg.Dir} {
		if v != "" {
			selected++
		}
	}
	if selected != 1 {
		return nil, nil, "", fmt.Errorf("exactly one backend must be selected (--redis, --bolt, or --dir)")
	}

	switch {
	case cfg.Redis != "":
		s := store.NewRedisStore(&redis.Options{Addr: cfg.Redis})
		return s, s, cfg.Prefix, nil
	case cfg.Bolt != "":
		s, err := store.OpenBolt(cfg.Bolt)
		if err != nil {
			return nil, nil, "", err
		}
		return s, s, cfg.Prefix, nil
	default:
		s, err := store.OpenDir(cfg.Dir)
		if err != nil {
			return nil, nil, "", err
		}
		return s, s, cfg.Prefix, nil
	}
}
