// Command stream_load opens many concurrent subscriptions to the verdict SSE
// stream of a running tokensieve server and reports how many verdicts arrive.
package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type counters struct {
	connected   atomic.Int64
	connectErrs atomic.Int64
	streamErrs  atomic.Int64
	verdicts    atomic.Int64
}

func main() {
	var (
		url      string
		conns    int
		duration time.Duration
		ramp     time.Duration
		lastID   uint64
	)
	pflag.StringVar(&url, "url", "http://localhost:8080/verdicts/stream", "verdict stream endpoint")
	pflag.IntVar(&conns, "conns", 500, "concurrent subscriptions")
	pflag.DurationVar(&duration, "dur", time.Minute, "test duration, 0 runs until interrupted")
	pflag.DurationVar(&ramp, "ramp", time.Second, "window the subscriptions are spread across")
	pflag.Uint64Var(&lastID, "last-event-id", 0, "replay verdicts journaled after this index")
	pflag.Parse()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	if conns <= 0 {
		logger.Fatal("invalid --conns", zap.Int("conns", conns))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	client := &http.Client{Transport: &http.Transport{
		MaxConnsPerHost:     conns + 100,
		MaxIdleConnsPerHost: conns + 100,
		DisableCompression:  true,
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
	}}

	var c counters
	start := time.Now()
	go report(ctx, &c, start, logger)

	interval := ramp / time.Duration(conns)
	g := new(errgroup.Group)
	for i := 0; i < conns && ctx.Err() == nil; i++ {
		if i > 0 && interval > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(interval):
			}
		}
		g.Go(func() error {
			subscribe(ctx, client, url, lastID, &c)
			return nil
		})
	}
	_ = g.Wait()

	elapsed := time.Since(start)
	fmt.Printf("done: connected=%d connect_errs=%d stream_errs=%d verdicts=%d elapsed=%s verdicts/s=%.2f\n",
		c.connected.Load(), c.connectErrs.Load(), c.streamErrs.Load(), c.verdicts.Load(),
		elapsed.Truncate(time.Millisecond), float64(c.verdicts.Load())/elapsed.Seconds())
}

func subscribe(ctx context.Context, client *http.Client, url string, lastID uint64, c *counters) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		c.connectErrs.Add(1)
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	if lastID > 0 {
		req.Header.Set("Last-Event-ID", fmt.Sprint(lastID))
	}

	resp, err := client.Do(req)
	if err != nil {
		c.connectErrs.Add(1)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.connectErrs.Add(1)
		return
	}
	c.connected.Add(1)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		if strings.HasPrefix(scanner.Text(), "event: verdict") {
			c.verdicts.Add(1)
		}
	}
	if ctx.Err() == nil {
		c.streamErrs.Add(1)
	}
}

func report(ctx context.Context, c *counters, start time.Time, logger *zap.Logger) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Info("status",
				zap.Int64("connected", c.connected.Load()),
				zap.Int64("connect_errs", c.connectErrs.Load()),
				zap.Int64("stream_errs", c.streamErrs.Load()),
				zap.Int64("verdicts", c.verdicts.Load()),
				zap.Duration("elapsed", time.Since(start).Truncate(time.Second)))
		}
	}
}
