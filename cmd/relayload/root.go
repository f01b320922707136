package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/utkarsh5026/dialogrelay/internal/client"
	"github.com/utkarsh5026/dialogrelay/internal/report"
)

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := defaultOptions()

	cmd := &cobra.Command{
		Use:   "relayload",
		Short: "Load test a relay server",
		Long: "relayload sends AI dialogue requests (or canned test requests with\n" +
			"--test) to a relay server and prints success rate and latency.\n\n" +
			"Burst mode sends --requests requests; --duration switches to\n" +
			"continuous mode for that long.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.validate(); err != nil {
				_ = cmd.Usage()
				return err
			}
			if !opts.progress {
				stderr = io.Discard
			}

			res, err := runLoad(cmd.Context(), opts, stderr)
			if err != nil {
				return err
			}
			if err := report.Load(stdout, res); err != nil {
				return err
			}
			if res.Succeeded == 0 && res.Requests > 0 {
				return errors.New("every request failed")
			}
			return nil
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	flags := cmd.Flags()
	flags.StringVarP(&opts.addr, "addr", "a", opts.addr, "relay server address")
	flags.IntVarP(&opts.requests, "requests", "n", opts.requests, "requests to send in burst mode")
	flags.IntVarP(&opts.concurrency, "concurrency", "c", opts.concurrency, "concurrent clients")
	flags.DurationVarP(&opts.duration, "duration", "d", 0, "run continuously for this long instead of a burst")
	flags.DurationVar(&opts.pause, "pause", 0, "upper bound of a random pause between requests in continuous mode")
	flags.BoolVar(&opts.test, "test", false, "send TEST_DIALOG requests, which need no AI backend")
	flags.DurationVar(&opts.timeout, "timeout", opts.timeout, "per-request timeout")
	flags.Int64Var(&opts.seed, "seed", 0, "random seed (0 picks one from the clock)")
	flags.BoolVar(&opts.progress, "progress", true, "show a progress bar")

	return cmd
}

type options struct {
	addr        string
	requests    int
	concurrency int
	duration    time.Duration
	pause       time.Duration
	test        bool
	timeout     time.Duration
	seed        int64
	progress    bool
}

func defaultOptions() options {
	return options{
		addr:        "127.0.0.1:8080",
		requests:    100,
		concurrency: 10,
		timeout:     client.DefaultTimeout,
		progress:    true,
	}
}

func (o options) validate() error {
	switch {
	case o.addr == "":
		return errors.New("--addr must not be empty")
	case o.concurrency < 1:
		return fmt.Errorf("--concurrency must be at least 1, got %d", o.concurrency)
	case o.duration <= 0 && o.requests < 1:
		return fmt.Errorf("--requests must be at least 1, got %d", o.requests)
	case o.duration < 0 || o.pause < 0 || o.timeout <= 0:
		return errors.New("durations must not be negative and --timeout must be positive")
	}
	return nil
}
