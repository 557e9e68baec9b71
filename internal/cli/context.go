package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xuezhouyang/spec-kit-catpaw/internal/audit"
	"github.com/xuezhouyang/spec-kit-catpaw/internal/fetch"
	"github.com/xuezhouyang/spec-kit-catpaw/internal/governance"
	"github.com/xuezhouyang/spec-kit-catpaw/internal/lock"
	"github.com/xuezhouyang/spec-kit-catpaw/internal/policy"
	"github.com/xuezhouyang/spec-kit-catpaw/internal/registry"
	"github.com/xuezhouyang/spec-kit-catpaw/internal/resolver"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/config"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/logging"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/metrics"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/webhook"
)

// env is the wired component graph for one command invocation.
type env struct {
	flags *globalFlags
	out   io.Writer
	root  string
	cfg   *config.Config

	log        *logging.Logger
	metrics    *metrics.Registry
	registry   *registry.Registry
	resolver   *resolver.Resolver
	policies   *policy.Evaluator
	locks      *lock.Store
	audit      *audit.Log
	webhooks   *webhook.Client
	controller *governance.Controller

	closers []func() error
}

// openEnv loads configuration and wires every component. Callers must Close.
func openEnv(cmd *cobra.Command, g *globalFlags) (*env, error) {
	root, err := filepath.Abs(g.dir)
	if err != nil {
		return nil, fmt.Errorf("resolve project dir: %w", err)
	}
	cfgPath := g.configPath
	if cfgPath == "" {
		cfgPath = filepath.Join(root, config.DefaultPath)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	e := &env{flags: g, out: cmd.OutOrStdout(), root: root, cfg: cfg}
	e.log = newLogger(cfg.Logging, g.verbose, cmd.ErrOrStderr())
	logging.SetGlobal(e.log)
	e.metrics = metrics.NewRegistry()

	e.policies, err = policy.New(cfg.Policies, policy.WithLogger(e.log), policy.WithMetrics(e.metrics))
	if err != nil {
		return nil, err
	}

	e.registry = registry.New(cfg.Sources())
	e.resolver = resolver.New(e.registry, e.fetcher(cmd.Context()),
		resolver.WithFetchTimeout(cfg.Resolver.FetchTimeout),
		resolver.WithMaxConcurrency(cfg.Resolver.MaxConcurrency),
		resolver.WithLogger(e.log),
		resolver.WithMetrics(e.metrics),
	)

	e.locks, err = lock.NewStore(config.ResolvePath(root, cfg.Paths.LockFile),
		lock.WithLogger(e.log), lock.WithMetrics(e.metrics))
	if err != nil {
		e.Close()
		return nil, err
	}
	e.audit = audit.NewLog(config.ResolvePath(root, cfg.Paths.AuditLog),
		audit.WithLogger(e.log), audit.WithMetrics(e.metrics))

	opts := []governance.Option{governance.WithLogger(e.log), governance.WithMetrics(e.metrics)}
	if cfg.Webhooks.Enabled && len(cfg.Webhooks.Hooks) > 0 {
		e.webhooks = webhook.NewClient(&cfg.Webhooks)
		e.closers = append(e.closers, e.webhooks.Close)
		opts = append(opts, governance.WithNotifier(e.webhooks))
	}
	e.controller = governance.New(e.policies, e.resolver, e.locks, e.audit, opts...)
	return e, nil
}

func (e *env) fetcher(ctx context.Context) fetch.Fetcher {
	router := fetch.NewRouter()
	switch e.cfg.Cache.Backend {
	case "memory":
		return fetch.NewCache(router, fetch.NewMemoryStore(), e.log)
	case "redis":
		if ctx == nil {
			ctx = context.Background()
		}
		store, err := fetch.NewRedisStore(ctx, e.cfg.Cache.RedisURL, e.cfg.Cache.KeyPrefix)
		if err != nil {
			e.log.Warn("redis cache unavailable, fetching without cache", map[string]any{"error": err.Error()})
			return router
		}
		e.closers = append(e.closers, store.Close)
		return fetch.NewCache(router, store, e.log)
	}
	return router
}

// Close drains webhooks, releases connections and exports metrics.
func (e *env) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if p := e.cfg.Metrics.Textfile; p != "" {
		if err := e.metrics.WriteTextfile(config.ResolvePath(e.root, p)); err != nil {
			errs = append(errs, fmt.Errorf("write metrics textfile: %w", err))
		}
	}
	_ = e.log.Sync()
	return errors.Join(errs...)
}

// actor returns the identity recorded in audit events.
func (e *env) actor() string {
	if e.flags.user != "" {
		return e.flags.user
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "unknown"
}

func newLogger(cfg config.LoggingConfig, verbose bool, w io.Writer) *logging.Logger {
	level := logging.ParseLevel(cfg.Level)
	if verbose {
		level = logging.LevelDebug
	}
	format := logging.FormatConsole
	if cfg.Format == "json" {
		format = logging.FormatJSON
	}
	l := logging.NewLoggerWithFormat(level, format)
	l.SetOutput(w)
	return l
}

// withEnv runs fn with a wired env and closes it afterwards.
func withEnv(cmd *cobra.Command, g *globalFlags, fn func(e *env) error) error {
	e, err := openEnv(cmd, g)
	if err != nil {
		return err
	}
	err = fn(e)
	if cerr := e.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
