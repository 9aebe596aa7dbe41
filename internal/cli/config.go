package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/matzehuels/panelsync/pkg/panel"
	"github.com/matzehuels/panelsync/pkg/reconcile"
)

// Backend names accepted in the config file and on the command line.
const (
	backendFile   = "file"
	backendRedis  = "redis"
	backendMemory = "memory"
	backendMongo  = "mongo"
	backendNone   = "none"
)

const defaultServerURL = "http://localhost:8080"

// Config is the resolved client and server configuration.
type Config struct {
	ServerURL string
	ClientID  string
	Scale     float64

	Cache     CacheConfig
	Redis     RedisConfig
	Push      string
	Reconcile reconcile.Options
	Serve     ServeConfig
}

// CacheConfig selects the position cache backend.
type CacheConfig struct {
	Backend string
	Dir     string
	// Prefix namespaces every cache key, e.g. per user.
	Prefix string
}

// RedisConfig is shared by the redis cache and the redis push channel.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// ServeConfig configures `panelsync serve`.
type ServeConfig struct {
	Listen        string
	Store         string
	Dir           string
	MongoURI      string
	MongoDatabase string
	Publish       bool
}

// defaultConfig is used for every key the config file leaves out.
func defaultConfig() Config {
	return Config{
		ServerURL: defaultServerURL,
		Scale:     panel.DefaultScale,
		Cache:     CacheConfig{Backend: backendFile},
		Redis:     RedisConfig{Addr: "localhost:6379"},
		Push:      backendNone,
		Reconcile: reconcile.DefaultOptions(),
		Serve: ServeConfig{
			Listen:  ":8080",
			Store:   backendMemory,
			Publish: true,
		},
	}
}

// config.toml key mapping.
type fileConfig struct {
	ServerURL string  `toml:"server_url"`
	ClientID  string  `toml:"client_id"`
	Scale     float64 `toml:"scale"`
	Cache     struct {
		Backend string `toml:"backend"`
		Dir     string `toml:"dir"`
		Prefix  string `toml:"prefix"`
	} `toml:"cache"`
	Redis struct {
		Addr     string `toml:"addr"`
		Password string `toml:"password"`
		DB       int    `toml:"db"`
	} `toml:"redis"`
	Push struct {
		Backend string `toml:"backend"`
	} `toml:"push"`
	Reconcile struct {
		Heuristic bool        `toml:"heuristic"`
		Tolerance float64     `toml:"tolerance"`
		Sentinels [][]float64 `toml:"sentinels"`
	} `toml:"reconcile"`
	Serve struct {
		Listen        string `toml:"listen"`
		Store         string `toml:"store"`
		Dir           string `toml:"dir"`
		MongoURI      string `toml:"mongo_uri"`
		MongoDatabase string `toml:"mongo_database"`
		Publish       bool   `toml:"publish"`
	} `toml:"serve"`
}

// loadConfig reads path on top of the defaults. A missing file at the
// default location is not an error; a missing explicit path is.
func loadConfig(path string, explicit bool) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) && !explicit {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load config: unknown key %q", undecoded[0].String())
	}

	setString := func(dst *string, v string, key ...string) {
		if meta.IsDefined(key...) {
			*dst = strings.TrimSpace(v)
		}
	}
	setString(&cfg.ServerURL, raw.ServerURL, "server_url")
	setString(&cfg.ClientID, raw.ClientID, "client_id")
	if meta.IsDefined("scale") {
		cfg.Scale = raw.Scale
	}

	setString(&cfg.Cache.Backend, raw.Cache.Backend, "cache", "backend")
	setString(&cfg.Cache.Dir, raw.Cache.Dir, "cache", "dir")
	setString(&cfg.Cache.Prefix, raw.Cache.Prefix, "cache", "prefix")

	setString(&cfg.Redis.Addr, raw.Redis.Addr, "redis", "addr")
	if meta.IsDefined("redis", "password") {
		cfg.Redis.Password = raw.Redis.Password
	}
	if meta.IsDefined("redis", "db") {
		cfg.Redis.DB = raw.Redis.DB
	}

	setString(&cfg.Push, raw.Push.Backend, "push", "backend")

	if meta.IsDefined("reconcile", "heuristic") {
		cfg.Reconcile.Heuristic = raw.Reconcile.Heuristic
	}
	if meta.IsDefined("reconcile", "tolerance") {
		cfg.Reconcile.Tolerance = raw.Reconcile.Tolerance
	}
	if meta.IsDefined("reconcile", "sentinels") {
		cfg.Reconcile.Sentinels = nil
		for i, s := range raw.Reconcile.Sentinels {
			if len(s) != 2 {
				return Config{}, fmt.Errorf("load config: reconcile.sentinels[%d] must be [x, y]", i)
			}
			cfg.Reconcile.Sentinels = append(cfg.Reconcile.Sentinels, panel.Point{X: s[0], Y: s[1]})
		}
	}

	setString(&cfg.Serve.Listen, raw.Serve.Listen, "serve", "listen")
	setString(&cfg.Serve.Store, raw.Serve.Store, "serve", "store")
	setString(&cfg.Serve.Dir, raw.Serve.Dir, "serve", "dir")
	setString(&cfg.Serve.MongoURI, raw.Serve.MongoURI, "serve", "mongo_uri")
	setString(&cfg.Serve.MongoDatabase, raw.Serve.MongoDatabase, "serve", "mongo_database")
	if meta.IsDefined("serve", "publish") {
		cfg.Serve.Publish = raw.Serve.Publish
	}

	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Cache.Backend {
	case backendFile, backendRedis, backendMemory, backendNone:
	default:
		return fmt.Errorf("unsupported cache backend %q (expected file, redis, memory or none)", c.Cache.Backend)
	}
	switch c.Push {
	case backendRedis, backendNone:
	default:
		return fmt.Errorf("unsupported push backend %q (expected redis or none)", c.Push)
	}
	switch c.Serve.Store {
	case backendMemory, backendFile, backendMongo:
	default:
		return fmt.Errorf("unsupported store %q (expected memory, file or mongo)", c.Serve.Store)
	}
	if c.Scale <= 0 {
		return fmt.Errorf("scale must be positive, got %v", c.Scale)
	}
	if c.Reconcile.Tolerance < 0 {
		return fmt.Errorf("reconcile.tolerance must not be negative")
	}
	return nil
}

// configPath returns the config file location
// (~/.config/panelsync/config.toml, honouring XDG_CONFIG_HOME).
func configPath() (string, error) {
	if home := os.Getenv("XDG_CONFIG_HOME"); home != "" {
		return filepath.Join(home, appName, "config.toml"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", appName, "config.toml"), nil
}
