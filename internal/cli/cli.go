package cli

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/matzehuels/panelsync/pkg/buildinfo"
	"github.com/matzehuels/panelsync/pkg/cache"
	"github.com/matzehuels/panelsync/pkg/lifecycle"
	"github.com/matzehuels/panelsync/pkg/push"
	"github.com/matzehuels/panelsync/pkg/remote"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// appName is the application name used for directories and display.
	appName = "panelsync"
)

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// =============================================================================
// CLI - Central CLI State
// =============================================================================

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger

	configFile string
	serverURL  string
	cacheFlag  string
	cfg        Config
}

// New creates a new CLI instance with a default logger.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{Logger: newLogger(w, level)}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "panelsync",
		Short:        "Panelsync keeps panel layouts in sync",
		Long:         `Panelsync reconciles a site layout of construction panels across a local position cache, the layout server and live updates from other clients.`,
		Version:      buildinfo.Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup(cmd)
		},
	}

	root.SetVersionTemplate(buildinfo.Template())
	root.PersistentFlags().StringVar(&c.configFile, "config", "", "config file (default ~/.config/panelsync/config.toml)")
	root.PersistentFlags().StringVar(&c.serverURL, "server", "", "layout server URL")
	root.PersistentFlags().StringVar(&c.cacheFlag, "cache", "", "position cache backend: file, redis, memory or none")

	// Register all subcommands
	root.AddCommand(c.layoutCommand())
	root.AddCommand(c.watchCommand())
	root.AddCommand(c.serveCommand())
	root.AddCommand(c.cacheCommand())
	root.AddCommand(c.completionCommand())

	return root
}

// setup loads the config and attaches the logger to the command context.
func (c *CLI) setup(cmd *cobra.Command) error {
	path, explicit := c.configFile, c.configFile != ""
	if !explicit {
		if p, err := configPath(); err == nil {
			path = p
		}
	}
	cfg, err := loadConfig(path, explicit)
	if err != nil {
		return err
	}
	if c.serverURL != "" {
		cfg.ServerURL = c.serverURL
	}
	if c.cacheFlag != "" {
		cfg.Cache.Backend = c.cacheFlag
		if err := cfg.validate(); err != nil {
			return err
		}
	}
	if cfg.ClientID == "" {
		cfg.ClientID = uuid.NewString()
	}
	c.cfg = cfg

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(withLogger(ctx, c.Logger))
	return nil
}

// =============================================================================
// Lifecycle Factory
// =============================================================================

// session is a lifecycle together with the resources it was built from.
type session struct {
	*lifecycle.Lifecycle
	closers []func() error
}

func (s *session) Close() error {
	err := s.Lifecycle.Close()
	for i := len(s.closers) - 1; i >= 0; i-- {
		if cerr := s.closers[i](); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// openSession wires a lifecycle from the config: HTTP gateway, position
// cache backend and, when configured, the redis push channel.
func (c *CLI) openSession(ctx context.Context) (*session, error) {
	logger := loggerFromContext(ctx)
	cfg := c.cfg

	gw, err := remote.NewHTTPClient(cfg.ServerURL, remote.WithClientID(cfg.ClientID))
	if err != nil {
		return nil, err
	}

	s := &session{}
	backend, err := c.openCache(ctx)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, backend.Close)

	var ch push.Channel
	if cfg.Push == backendRedis {
		rc, err := push.NewRedisChannel(ctx, push.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   appName + ":",
			Logger:   logger,
		})
		if err != nil {
			// Live updates are optional; the layout still works without them.
			logger.Warn("push channel unavailable", "addr", cfg.Redis.Addr, "err", err)
		} else {
			ch = rc
			s.closers = append(s.closers, rc.Close)
		}
	}

	opts := cfg.Reconcile
	lc, err := lifecycle.New(lifecycle.Config{
		Gateway:   gw,
		Push:      ch,
		Cache:     backend,
		Keyer:     c.keyer(),
		Scale:     cfg.Scale,
		Reconcile: &opts,
		ClientID:  cfg.ClientID,
		Logger:    logger,
	})
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Lifecycle = lc
	return s, nil
}

// openCache opens the configured position cache backend. An unusable file
// cache degrades to a null cache, like a disabled one.
func (c *CLI) openCache(ctx context.Context) (cache.Cache, error) {
	cfg := c.cfg.Cache
	switch cfg.Backend {
	case backendNone:
		return cache.NewNullCache(), nil
	case backendMemory:
		return cache.NewMemoryCache(), nil
	case backendRedis:
		rc, err := cache.NewRedisCache(ctx, cache.RedisConfig{
			Addr:     c.cfg.Redis.Addr,
			Password: c.cfg.Redis.Password,
			DB:       c.cfg.Redis.DB,
			Prefix:   appName + ":",
		})
		if err != nil {
			return nil, err
		}
		return rc, nil
	}
	dir, err := c.cacheDirectory()
	if err != nil {
		loggerFromContext(ctx).Warn("no cache directory, positions are kept in memory", "err", err)
		return cache.NewNullCache(), nil
	}
	fc, err := cache.NewFileCache(dir)
	if err != nil {
		return nil, err
	}
	return fc, nil
}

func (c *CLI) keyer() cache.Keyer {
	k := cache.NewDefaultKeyer()
	if c.cfg.Cache.Prefix != "" {
		k = cache.NewScopedKeyer(k, c.cfg.Cache.Prefix)
	}
	return k
}

func (c *CLI) cacheDirectory() (string, error) {
	if c.cfg.Cache.Dir != "" {
		return c.cfg.Cache.Dir, nil
	}
	return cacheDir()
}

// =============================================================================
// Paths
// =============================================================================

// cacheDir returns the cache directory using XDG standard (~/.cache/panelsync/).
func cacheDir() (string, error) {
	if cacheHome := os.Getenv("XDG_CACHE_HOME"); cacheHome != "" {
		return filepath.Join(cacheHome, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cache", appName), nil
}

// dataDir returns the data directory of the file layout store
// (~/.local/share/panelsync/layouts).
func dataDir() (string, error) {
	if dataHome := os.Getenv("XDG_DATA_HOME"); dataHome != "" {
		return filepath.Join(dataHome, appName, "layouts"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "share", appName, "layouts"), nil
}
