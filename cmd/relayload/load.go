package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"github.com/utkarsh5026/dialogrelay/internal/client"
	"github.com/utkarsh5026/dialogrelay/internal/protocol"
	"github.com/utkarsh5026/dialogrelay/internal/report"
)

var (
	languages = []string{"en", "it", "es", "fr", "de"}

	prompts = []string{
		"Hello robot, how are you?",
		"Tell me a joke",
		"What's the weather like?",
		"How do you feel today?",
		"Can you help me with something?",
		"What do you think about AI?",
		"Tell me about yourself",
		"What are your capabilities?",
	}
)

// generator produces random request payloads. It is safe for concurrent use.
type generator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func newGenerator(seed int64) *generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &generator{rng: rand.New(rand.NewSource(seed))}
}

// personality renders five Big Five scores in [1,7] with one decimal.
func (g *generator) personality() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	scores := make([]string, 5)
	for i := range scores {
		scores[i] = fmt.Sprintf("%.1f", 1+g.rng.Float64()*6)
	}
	return "extraversion:" + strings.Join(scores, ",")
}

func (g *generator) language() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return languages[g.rng.Intn(len(languages))]
}

func (g *generator) conversation() string {
	g.mu.Lock()
	prompt := prompts[g.rng.Intn(len(prompts))]
	g.mu.Unlock()

	turns := []map[string]any{{
		"role":  "user",
		"parts": []map[string]string{{"text": prompt}},
	}}
	b, _ := json.Marshal(turns)
	return string(b)
}

func (g *generator) pause(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return time.Duration(g.rng.Int63n(int64(limit)))
}

// collector accumulates outcomes from concurrent requests.
type collector struct {
	mu  sync.Mutex
	res *report.LoadResult
}

func (c *collector) record(latency time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.res.Requests++
	if err != nil {
		c.res.Failed++
		c.res.Errors[errorKey(err)]++
		return
	}
	c.res.Succeeded++
	c.res.Latencies = append(c.res.Latencies, latency)
}

func errorKey(err error) string {
	switch {
	case errors.Is(err, client.ErrServerError):
		return err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	msg := err.Error()
	if len(msg) > 60 {
		msg = msg[:60] + "..."
	}
	return msg
}

// runLoad executes the configured load and returns the collected result.
// Progress is drawn on progress.
func runLoad(ctx context.Context, opts options, progress io.Writer) (*report.LoadResult, error) {
	gen := newGenerator(opts.seed)
	col := &collector{res: &report.LoadResult{
		RunID:  uuid.NewString(),
		Errors: make(map[string]int),
	}}

	one := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, opts.timeout)
		defer cancel()

		start := time.Now()
		var err error
		if opts.test {
			_, err = client.Test(ctx, opts.addr, gen.language())
		} else {
			_, err = client.Dialog(ctx, opts.addr, protocol.DialogRequest{
				Personality:  gen.personality(),
				Language:     gen.language(),
				Conversation: gen.conversation(),
			})
		}
		col.record(time.Since(start), err)
	}

	total := opts.requests
	if opts.duration > 0 {
		total = -1
	}
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(progress),
		progressbar.OptionSetDescription("requests"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionClearOnFinish(),
	)

	start := time.Now()
	if opts.duration > 0 {
		continuous(ctx, opts, gen, bar, one)
	} else {
		burst(ctx, opts, bar, one)
	}
	col.res.Elapsed = time.Since(start)
	_ = bar.Finish()

	return col.res, nil
}

// burst sends opts.requests requests with at most opts.concurrency in
// flight.
func burst(ctx context.Context, opts options, bar *progressbar.ProgressBar, one func(context.Context)) {
	var g errgroup.Group
	g.SetLimit(opts.concurrency)

	for range opts.requests {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			one(ctx)
			_ = bar.Add(1)
			return nil
		})
	}
	_ = g.Wait()
}

// continuous keeps opts.concurrency clients busy until opts.duration
// elapses or ctx ends. Requests in flight when the duration ends still
// complete.
func continuous(ctx context.Context, opts options, gen *generator, bar *progressbar.ProgressBar, one func(context.Context)) {
	runCtx, cancel := context.WithTimeout(ctx, opts.duration)
	defer cancel()

	var g errgroup.Group
	for range opts.concurrency {
		g.Go(func() error {
			for runCtx.Err() == nil {
				one(ctx)
				_ = bar.Add(1)

				select {
				case <-runCtx.Done():
				case <-time.After(gen.pause(opts.pause)):
				}
			}
			return nil
		})
	}
	_ = g.Wait()
}
