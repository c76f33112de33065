package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/errors"
	"github.com/alecthomas/kong"

	"github.com/block/gitbridge/internal/approval"
	"github.com/block/gitbridge/internal/config"
	"github.com/block/gitbridge/internal/httpapi"
	"github.com/block/gitbridge/internal/jobs"
	"github.com/block/gitbridge/internal/jobstore"
	"github.com/block/gitbridge/internal/logging"
	"github.com/block/gitbridge/internal/metrics"
	"github.com/block/gitbridge/internal/pairing"
	"github.com/block/gitbridge/internal/token"
)

// Overridden at build time.
var version = "dev"

type ServeCmd struct {
	MetricsPort int `help:"Prometheus scrape port on loopback, 0 to disable." default:"0"`
}

type SetupCmd struct {
	WorkspaceRoot string `arg:"" help:"Absolute path the daemon may touch."`
}

type RevokeCmd struct {
	Origin string `required:"" help:"Origin whose token to revoke."`
}

type SchemaCmd struct{}

type CLI struct {
	ConfigDir string `help:"Configuration directory." env:"GIT_DAEMON_CONFIG_DIR"`

	Serve  ServeCmd  `cmd:"" default:"1" help:"Run the daemon."`
	Setup  SetupCmd  `cmd:"" help:"Set the workspace root."`
	Revoke RevokeCmd `cmd:"" help:"Revoke a paired origin's token."`
	Schema SchemaCmd `cmd:"" help:"Print the default configuration document."`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli, kong.DefaultEnvars("GITBRIDGE"))

	dir := cli.ConfigDir
	if dir == "" {
		var err error
		dir, err = config.Dir()
		kctx.FatalIfErrorf(err)
	}

	store, err := config.Open(dir)
	kctx.FatalIfErrorf(err, "failed to load configuration")

	switch kctx.Command() {
	case "setup <workspace-root>":
		kctx.FatalIfErrorf(setup(store, cli.Setup.WorkspaceRoot))
	case "revoke":
		kctx.FatalIfErrorf(revoke(dir, cli.Revoke.Origin))
	case "schema":
		kctx.FatalIfErrorf(printSchema())
	default:
		kctx.FatalIfErrorf(serve(store, dir, cli.Serve))
	}
}

func setup(store *config.Store, root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return errors.Wrap(err, "resolve workspace root")
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return errors.Errorf("workspace root %q is not an existing directory", abs)
	}
	if err := store.Update(func(conf *config.Config) error {
		conf.WorkspaceRoot = abs
		return nil
	}); err != nil {
		return errors.WithStack(err)
	}
	fmt.Printf("Workspace root set to %s\n", abs) //nolint:forbidigo
	return nil
}

func revoke(dir, origin string) error {
	tokens, err := token.Open(dir)
	if err != nil {
		return errors.WithStack(err)
	}
	if err := tokens.Revoke(origin); err != nil {
		return errors.WithStack(err)
	}
	fmt.Printf("Revoked token for %s\n", origin) //nolint:forbidigo
	return nil
}

func printSchema() error {
	data, err := json.MarshalIndent(config.Default(), "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode default config")
	}
	fmt.Printf("%s\n", data) //nolint:forbidigo
	return nil
}

func serve(store *config.Store, dir string, cmd ServeCmd) error {
	conf := store.Get()
	if err := conf.Validate(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	logConf := conf.Logging
	logConf.Dir = dir
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger, ctx := logging.Configure(ctx, logConf)

	tokens, err := token.Open(dir)
	if err != nil {
		return errors.Wrap(err, "failed to load token store")
	}

	metricsClient, err := metrics.New(ctx, metrics.Config{ServiceName: "gitbridge", Port: cmd.MetricsPort})
	if err != nil {
		return errors.Wrap(err, "failed to create metrics client")
	}
	defer func() {
		if err := metricsClient.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close metrics client", "error", err)
		}
	}()
	if err := metricsClient.ServeMetrics(ctx); err != nil {
		return errors.Wrap(err, "failed to start metrics server")
	}
	ops, err := metrics.NewOperations()
	if err != nil {
		return errors.WithStack(err)
	}

	history, err := jobstore.Open(filepath.Join(dir, "jobs.db"))
	if err != nil {
		return errors.Wrap(err, "failed to open job history")
	}
	defer func() {
		if err := history.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close job history", "error", err)
		}
	}()

	manager := jobs.New(ctx, jobs.Config{
		MaxConcurrent: conf.Jobs.MaxConcurrent,
		Timeout:       conf.JobTimeout(),
	})
	manager.NotifyTerminal(func(snap jobs.Snapshot) {
		if err := history.Put(snap); err != nil {
			logger.WarnContext(ctx, "Failed to record job history", "job", snap.ID, "error", err)
		}
		ops.RecordJob(ctx, snap.Operation, string(snap.State))
	})

	server := httpapi.New(store, tokens, pairing.NewManager(), approval.NewPolicy(store, approval.TTYPrompter{}), manager, httpapi.Options{
		Version: version,
		History: history,
		Ops:     ops,
	})

	handler := server.Handler(ctx)
	bind := fmt.Sprintf("%s:%d", conf.ServerHost, conf.ServerPort)
	httpServer := newServer(ctx, logger, handler, bind)

	// The TLS listener mirrors the plaintext one: same routes, same
	// admission filters.
	if conf.TLS != nil {
		tlsServer := newServer(ctx, logger, handler, fmt.Sprintf("%s:%d", conf.ServerHost, conf.TLS.Port))
		go func() {
			logger.InfoContext(ctx, "Starting TLS listener", slog.String("bind", tlsServer.Addr))
			if err := tlsServer.ListenAndServeTLS(conf.TLS.CertFile, conf.TLS.KeyFile); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.ErrorContext(ctx, "TLS listener failed", "error", err)
			}
		}()
		go shutdownOnDone(ctx, logger, tlsServer)
	}
	go shutdownOnDone(ctx, logger, httpServer)

	logger.InfoContext(ctx, "Starting gitbridged", slog.String("bind", bind), slog.String("version", version))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server failed")
	}
	return nil
}

func newServer(ctx context.Context, logger *slog.Logger, handler http.Handler, bind string) *http.Server {
	return &http.Server{
		Addr:              bind,
		Handler:           handler,
		ReadHeaderTimeout: 30 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
		ConnContext: func(ctx context.Context, c net.Conn) context.Context {
			return logging.ContextWithLogger(ctx, logger.With("client", c.RemoteAddr().String()))
		},
	}
}

func shutdownOnDone(ctx context.Context, logger *slog.Logger, server *http.Server) {
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.ErrorContext(shutdownCtx, "Shutdown error", "error", err)
	}
}
