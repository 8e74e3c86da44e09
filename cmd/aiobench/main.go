// Command aiobench drives a read stream against an in-memory relation
// and reports the throughput and distance-controller behavior the
// engine settles into, for a chosen io_method and access pattern.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/cedarbase/aio"
	"github.com/cedarbase/aio/internal/constants"
	"github.com/cedarbase/aio/internal/logging"
	"github.com/cedarbase/aio/internal/method"
	"github.com/cedarbase/aio/readstream"
	"github.com/cedarbase/aio/relation"
)

func main() {
	app := &cli.App{
		Name:  "aiobench",
		Usage: "benchmark the aio engine and read stream against an in-memory relation",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "size", Value: "256M", Usage: "relation size (e.g. 64M, 1G)"},
			&cli.StringFlag{Name: "pattern", Value: "sequential", Usage: "access pattern: sequential, random, full"},
			&cli.StringFlag{Name: "io-method", Value: "sync", Usage: "io method: sync, worker, io_uring, posix_aio"},
			&cli.IntFlag{Name: "concurrency", Value: constants.DefaultEffectiveIOConcurrency, Usage: "effective_io_concurrency"},
			&cli.IntFlag{Name: "buffer-io-size", Value: constants.DefaultBufferIOSize, Usage: "buffer_io_size, in blocks"},
			&cli.IntFlag{Name: "worker-count", Value: 4, Usage: "worker pool size when io-method=worker"},
			&cli.BoolFlag{Name: "direct", Usage: "set io_direct_flags, clamping the stream to regime B"},
			&cli.StringFlag{Name: "metrics-addr", Usage: "if set, serve Prometheus metrics on this address (e.g. :9090) until the run completes"},
			&cli.BoolFlag{Name: "v", Usage: "verbose logging"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "aiobench:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	logConfig := logging.DefaultConfig()
	if c.Bool("v") {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	size, err := parseSize(c.String("size"))
	if err != nil {
		return fmt.Errorf("invalid --size %q: %w", c.String("size"), err)
	}

	cfg := aio.DefaultConfig()
	cfg.EffectiveIOConcurrency = c.Int("concurrency")
	cfg.BufferIOSize = c.Int("buffer-io-size")
	cfg.IODirectFlags = c.Bool("direct")

	m, methodName, err := buildMethod(c.String("io-method"), c.Int("worker-count"))
	if err != nil {
		return err
	}
	cfg.IOMethod = methodName

	engine, err := aio.NewEngine(cfg, m)
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}

	if addr := c.String("metrics-addr"); addr != "" {
		collector := aio.NewPrometheusCollector(engine.Metrics())
		registry := prometheus.NewRegistry()
		registry.MustRegister(collector)
		srv := &http.Server{Addr: addr, Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{})}
		go func() {
			logger.Info("serving metrics", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
		defer srv.Close()
	}

	rel, err := relation.NewMemory("aiobench", size)
	if err != nil {
		return fmt.Errorf("creating relation: %w", err)
	}
	defer rel.Close()
	subjectID := aio.RegisterSubject(rel)

	numBlocks := rel.Size() / constants.BlockSize
	logger.Info("starting benchmark",
		"size", formatSize(size),
		"blocks", numBlocks,
		"pattern", c.String("pattern"),
		"io_method", methodName)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	cb, flags := blockSource(c.String("pattern"), numBlocks)

	backend := aio.NewBackend(engine, 0)
	owner := aio.NewResourceOwner(engine)
	start := time.Now()

	stream := readstream.Begin(engine, backend, subjectID, rel.FD(), flags, cb, nil, 0)
	blocksRead := int64(0)
	for ctx.Err() == nil {
		_, _, _, ok := stream.Next()
		if !ok {
			break
		}
		blocksRead++
	}
	stream.End()
	owner.Close()

	elapsed := time.Since(start)
	snap := engine.Metrics().Snapshot()
	fmt.Printf("blocks read:     %d\n", blocksRead)
	fmt.Printf("elapsed:         %s\n", elapsed)
	fmt.Printf("read bandwidth:  %.2f MB/s\n", snap.ReadBandwidth/(1024*1024))
	fmt.Printf("read iops:       %.2f\n", snap.ReadIOPS)
	fmt.Printf("distance grows:  %d\n", snap.DistanceIncreases)
	fmt.Printf("distance decays: %d\n", snap.DistanceDecreases)
	fmt.Printf("regime A/B/C:    %d/%d/%d\n", snap.RegimeATransitions, snap.RegimeBTransitions, snap.RegimeCTransitions)
	return nil
}

func buildMethod(name string, workerCount int) (method.Method, aio.IOMethodName, error) {
	switch aio.IOMethodName(name) {
	case aio.IOMethodSync:
		return method.NewSyncMethod(), aio.IOMethodSync, nil
	case aio.IOMethodWorker:
		return method.NewWorkerMethod(workerCount, nil), aio.IOMethodWorker, nil
	case aio.IOMethodIOUring:
		um, err := method.NewURingMethod(256)
		if err != nil {
			return nil, "", fmt.Errorf("initializing io_uring: %w", err)
		}
		return um, aio.IOMethodIOUring, nil
	case aio.IOMethodPosixAIO:
		return method.NewPosixAIOMethod(), aio.IOMethodPosixAIO, nil
	default:
		return nil, "", fmt.Errorf("unknown io-method %q", name)
	}
}

// blockSource returns a BlockCallback emitting every block in the
// relation once, in the chosen order, plus the stream flags that match
// the pattern's intent.
func blockSource(pattern string, numBlocks int64) (readstream.BlockCallback, readstream.Flags) {
	switch pattern {
	case "random":
		order := rand.Perm(int(numBlocks))
		i := 0
		return func(_ any) int64 {
			if i >= len(order) {
				return readstream.InvalidBlock
			}
			b := int64(order[i])
			i++
			return b
		}, 0
	case "full":
		next := int64(0)
		return func(_ any) int64 {
			if next >= numBlocks {
				return readstream.InvalidBlock
			}
			b := next
			next++
			return b
		}, readstream.Full
	default: // sequential
		next := int64(0)
		return func(_ any) int64 {
			if next >= numBlocks {
				return readstream.InvalidBlock
			}
			b := next
			next++
			return b
		}, readstream.Sequential
	}
}

// parseSize parses a size string like "64M", "1G", "512K".
func parseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))

	var multiplier int64 = 1
	var numStr string

	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = 1024
		numStr = strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		multiplier = 1024 * 1024
		numStr = strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "G"):
		multiplier = 1024 * 1024 * 1024
		numStr = strings.TrimSuffix(s, "G")
	default:
		numStr = s
	}

	num, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil {
		return 0, err
	}
	return num * multiplier, nil
}

// formatSize formats a byte count as a human-readable string.
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	units := []string{"K", "M", "G", "T"}
	return fmt.Sprintf("%.1f %sB", float64(bytes)/float64(div), units[exp])
}
