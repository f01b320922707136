package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/utkarsh5026/dialogrelay/internal/ai"
	"github.com/utkarsh5026/dialogrelay/internal/algorithms"
	"github.com/utkarsh5026/dialogrelay/internal/canned"
	"github.com/utkarsh5026/dialogrelay/internal/config"
	"github.com/utkarsh5026/dialogrelay/internal/logging"
	"github.com/utkarsh5026/dialogrelay/internal/netpoll"
	"github.com/utkarsh5026/dialogrelay/internal/relay"
	"github.com/utkarsh5026/dialogrelay/internal/report"
	"github.com/utkarsh5026/dialogrelay/internal/server"
	"github.com/utkarsh5026/dialogrelay/pool"
)

const retryJitter = 0.2

var errUsage = errors.New("invalid arguments")

// newRootCmd builds the relayd command. Flags override the config file and
// the environment.
func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	v := config.New()
	var configFile string

	cmd := &cobra.Command{
		Use:   "relayd [-p PORT]",
		Short: "Run the dialogue relay server",
		Long: "relayd accepts one request per TCP connection, answers AI dialogue\n" +
			"requests through Gemini and test requests with canned replies.\n\n" +
			"The Gemini key is read from " + config.APIKeyEnv + ".",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v, configFile)
			if err != nil {
				return err
			}
			if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
				_ = cmd.Usage()
				return fmt.Errorf("%w: %w", errUsage, config.ErrInvalidPort)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			log := logging.NewLogger(stderr, cfg.Log.Level, cfg.Log.Format)
			return serve(cmd.Context(), cfg, log, stdout)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		_ = c.Usage()
		return fmt.Errorf("%w: %w", errUsage, err)
	})

	flags := cmd.Flags()
	flags.IntP("port", "p", config.Default().Server.Port, "port to listen on (1-65535)")
	flags.StringVar(&configFile, "config", "", "config file (yaml, toml or json)")
	flags.String("log-level", config.Default().Log.Level, "log level: debug, info, warn, error")
	flags.String("log-format", config.Default().Log.Format, "log format: text or json")

	_ = v.BindPFlag("server.port", flags.Lookup("port"))
	_ = v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = v.BindPFlag("log.format", flags.Lookup("log-format"))

	return cmd
}

// serve wires the relay together and blocks until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config, log *logging.Logger, stdout io.Writer) error {
	backend, err := newBackend(ctx, cfg.AI, log)
	if err != nil {
		return err
	}

	p, err := pool.New(context.WithoutCancel(ctx), poolOptions(cfg.Pool, log)...)
	if err != nil {
		return fmt.Errorf("create worker pool: %w", err)
	}

	addr := net.JoinHostPort("", strconv.Itoa(cfg.Server.Port))
	poller, err := netpoll.Listen(addr, netpoll.Config{
		Backlog:   cfg.Server.Backlog,
		MaxEvents: cfg.Server.MaxEvents,
	})
	if err != nil {
		p.Destroy()
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	handler := relay.NewHandler(backend, canned.New(),
		relay.WithLogger(log),
		relay.WithConnTimeout(cfg.Server.ConnTimeout),
		relay.WithAITimeout(cfg.AI.Timeout),
		relay.WithMaxMessageSize(cfg.Server.MaxMessageSize),
		relay.WithBehaviorSuffix(cfg.AI.BehaviorSuffix),
	)

	srv := server.New(poller, p, handler,
		server.WithLogger(log),
		server.WithPollTimeout(cfg.Server.PollTimeout),
		server.WithStatsInterval(cfg.Server.StatsInterval),
	)

	start := time.Now()
	runErr := srv.Run(ctx)

	if err := report.PoolStats(stdout, fmt.Sprintf("POOL STATISTICS (uptime %s)", time.Since(start).Round(time.Second)), p.Stats()); err != nil {
		log.Warn("failed to render pool statistics", "error", err)
	}
	return runErr
}

// newBackend builds the Gemini backend with throttling inside retries, so
// every attempt takes a token.
func newBackend(ctx context.Context, cfg config.AIConfig, log *logging.Logger) (ai.Backend, error) {
	gemini, err := ai.NewGemini(ctx, ai.GeminiConfig{
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		BaseURL: cfg.BaseURL,
	}, log)
	if err != nil {
		return nil, err
	}

	kind, err := algorithms.ParseKind(cfg.Backoff)
	if err != nil {
		return nil, err
	}

	var b ai.Backend = gemini
	b = ai.NewRateLimited(b, cfg.RatePerSecond, cfg.Burst)
	b = ai.NewRetrying(b, cfg.MaxRetries+1, func() algorithms.Strategy {
		return algorithms.New(kind, cfg.RetryDelay, cfg.Timeout, retryJitter)
	}, log)
	return b, nil
}

func poolOptions(cfg config.PoolConfig, log *logging.Logger) []pool.Option {
	opts := []pool.Option{
		pool.WithBounds(cfg.Min, cfg.Max),
		pool.WithInitialWorkers(cfg.Initial),
		pool.WithScaleInterval(cfg.ScaleInterval),
		pool.WithPolicy(pool.Policy{
			UpThreshold:   cfg.UpThreshold,
			DownThreshold: cfg.DownThreshold,
			HighWater:     cfg.HighWater,
			LowWater:      cfg.LowWater,
		}),
		pool.WithLogger(log),
	}
	if cfg.PinCPU {
		opts = append(opts, pool.WithCPUAffinity())
	}
	return opts
}
