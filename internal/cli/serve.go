package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/matzehuels/panelsync/internal/server"
	"github.com/matzehuels/panelsync/pkg/push"
	"github.com/matzehuels/panelsync/pkg/store"
)

// shutdownTimeout bounds the graceful drain of in-flight requests.
const shutdownTimeout = 10 * time.Second

func (c *CLI) serveCommand() *cobra.Command {
	var (
		listen  string
		backend string
		dir     string
		pushTo  string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the layout server",
		Long: `Run the layout server.

The server stores layouts in memory (default), in JSON files, or in MongoDB,
and rejects writes made against a stale revision. With --push redis every
accepted write is broadcast to the project's live-update room.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := c.cfg.Serve
			if cmd.Flags().Changed("listen") {
				cfg.Listen = listen
			}
			if cmd.Flags().Changed("store") {
				cfg.Store = backend
			}
			if cmd.Flags().Changed("dir") {
				cfg.Dir = dir
			}
			pushBackend := c.cfg.Push
			if cmd.Flags().Changed("push") {
				pushBackend = pushTo
			}
			return c.serve(cmd.Context(), cfg, pushBackend)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default :8080)")
	cmd.Flags().StringVar(&backend, "store", "", "layout store: memory, file or mongo")
	cmd.Flags().StringVar(&dir, "dir", "", "directory of the file store")
	cmd.Flags().StringVar(&pushTo, "push", "", "broadcast accepted writes: redis or none")
	return cmd
}

func (c *CLI) serve(ctx context.Context, cfg ServeConfig, pushBackend string) error {
	logger := loggerFromContext(ctx)

	st, err := c.openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := st.Close(closeCtx); err != nil {
			logger.Warn("closing store failed", "err", err)
		}
	}()

	srvCfg := server.Config{Store: st, Logger: logger}
	switch pushBackend {
	case backendRedis:
		ch, err := push.NewRedisChannel(ctx, push.RedisConfig{
			Addr:     c.cfg.Redis.Addr,
			Password: c.cfg.Redis.Password,
			DB:       c.cfg.Redis.DB,
			Prefix:   appName + ":",
			Logger:   logger,
		})
		if err != nil {
			return fmt.Errorf("push channel: %w", err)
		}
		defer ch.Close()
		if cfg.Publish {
			srvCfg.Push = ch
		}
	case backendNone, "":
	default:
		return fmt.Errorf("unsupported push backend %q (expected redis or none)", pushBackend)
	}

	handler, err := server.New(srvCfg)
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Listen, err)
	}
	httpSrv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	printSuccess("Serving layouts on %s", ln.Addr())
	printDetail("store: %s · push: %s", cfg.Store, pushBackend)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpSrv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (c *CLI) openStore(ctx context.Context, cfg ServeConfig) (store.Store, error) {
	switch cfg.Store {
	case backendMemory:
		return store.NewMemoryStore(), nil
	case backendFile:
		dir := cfg.Dir
		if dir == "" {
			d, err := dataDir()
			if err != nil {
				return nil, fmt.Errorf("get data dir: %w", err)
			}
			dir = d
		}
		fs, err := store.NewFileStore(dir)
		if err != nil {
			return nil, err
		}
		return fs, nil
	case backendMongo:
		ms, err := store.NewMongoStore(ctx, store.MongoConfig{
			URI:      cfg.MongoURI,
			Database: cfg.MongoDatabase,
		})
		if err != nil {
			return nil, err
		}
		return ms, nil
	}
	return nil, fmt.Errorf("unsupported store %q (expected memory, file or mongo)", cfg.Store)
}
