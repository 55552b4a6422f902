// Package main implements the segshuffle randomizer, which writes a
// randomized copy of one or more segment files while holding only one
// bucket of records in memory at a time.
//
// The randomizer runs two passes over temporary bucket files:
//   - Partition: every input record goes to a uniformly drawn bucket
//   - Shuffle: each bucket is loaded, permuted and appended to the output
//
// Configuration:
//
// Flags (repeat -i or pass inputs as trailing arguments):
//
//	-i                  Input segment file (repeatable)
//	-o                  Output segment file (required)
//	-b                  Records per bucket (default: 20000)
//	-c                  Records per chunk in bucket files (default: 1000)
//	-output-chunk-size  Records per chunk in the output (default: 10000)
//	-random-seed        Seed for every random draw (default: 232323)
//	-read-n             Use at most this many leading records per input (0: all)
//	-temp-dir           Bucket directory (default: <output dir>/tmp-<run id>)
//	-keep-temp          Keep bucket files and partial output on failure
//	-progress           Progress log interval (default: 10s, 0 disables)
//
// Environment:
//   - LOG_LEVEL: debug, info, warn or error (default: "info")
//   - METRICS_ADDR: Serve Prometheus metrics on this address (default: off)
//
// Example usage:
//
//	# Randomize two files into one, 50k records per bucket
//	./randomizer -o data/train-shuffled -b 50000 data/train-a.ssi data/train-b.ssi
//
//	# Same, exposing metrics while it runs
//	METRICS_ADDR=:9102 ./randomizer -o data/out -i data/in.ssi
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dreamware/segshuffle/internal/logging"
	"github.com/dreamware/segshuffle/internal/randomizer"
	"github.com/dreamware/segshuffle/internal/segment"
)

// logFatal is a variable to allow mocking log.Fatalf in tests.
var logFatal = log.Fatalf

func main() {
	opts, err := parseArgs(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		logFatal("randomizer: %v", err)
		return
	}

	logger, err := logging.New(opts.logLevel)
	if err != nil {
		logFatal("randomizer: %v", err)
		return
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var reg prometheus.Registerer
	if opts.metricsAddr != "" {
		reg = prometheus.DefaultRegisterer
		srv := serveMetrics(opts.metricsAddr, logging.Component(logger, "metrics"))
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	if _, err := run(ctx, opts, segment.NewFileStore(), logger, reg); err != nil {
		logFatal("randomizer: %v", err)
	}
}

// options holds the parsed command line.
type options struct {
	cfg         randomizer.Config
	logLevel    string
	metricsAddr string
}

// stringList is a repeatable string flag.
type stringList []string

func (s *stringList) String() string {
	return strings.Join(*s, ",")
}

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// parseArgs turns command line arguments into options. Usage and parse
// errors are written to output.
func parseArgs(args []string, output io.Writer) (options, error) {
	opts := options{cfg: randomizer.DefaultConfig()}
	cfg := &opts.cfg

	fs := flag.NewFlagSet("randomizer", flag.ContinueOnError)
	fs.SetOutput(output)

	var inputs stringList
	fs.Var(&inputs, "i", "input segment file (repeatable)")
	fs.StringVar(&cfg.Output, "o", "", "output segment file")
	fs.Int64Var(&cfg.RecordsPerBucket, "b", cfg.RecordsPerBucket, "records per bucket")
	fs.IntVar(&cfg.ChunkSize, "c", cfg.ChunkSize, "records per chunk in bucket files")
	fs.IntVar(&cfg.OutputChunkSize, "output-chunk-size", cfg.OutputChunkSize, "records per chunk in the output")
	fs.Int64Var(&cfg.Seed, "random-seed", cfg.Seed, "seed for every random draw")
	fs.Int64Var(&cfg.ReadN, "read-n", 0, "use at most this many leading records per input (0: all)")
	fs.StringVar(&cfg.TempDir, "temp-dir", "", "bucket directory (default: <output dir>/tmp-<run id>)")
	fs.BoolVar(&cfg.KeepTempOnFailure, "keep-temp", false, "keep bucket files and partial output on failure")
	fs.DurationVar(&cfg.ProgressInterval, "progress", cfg.ProgressInterval, "progress log interval (0 disables)")
	fs.StringVar(&opts.logLevel, "log-level", getenv("LOG_LEVEL", "info"), "log level")
	fs.StringVar(&opts.metricsAddr, "metrics-addr", getenv("METRICS_ADDR", ""), "serve Prometheus metrics on this address")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	cfg.Inputs = append(inputs, fs.Args()...)

	if err := cfg.Validate(); err != nil {
		fs.Usage()
		return options{}, err
	}
	return opts, nil
}

// run executes one randomization with the given store. A nil registerer
// disables metrics.
func run(ctx context.Context, opts options, store segment.Store, logger *zap.Logger, reg prometheus.Registerer) (*randomizer.Result, error) {
	orchOpts := []randomizer.Option{
		randomizer.WithLogger(logging.Component(logger, "randomizer")),
		randomizer.WithProgress(randomizer.NewProgressLogger(logging.Component(logger, "progress"), opts.cfg.ProgressInterval)),
	}
	if reg != nil {
		orchOpts = append(orchOpts, randomizer.WithMetrics(randomizer.NewMetrics(reg)))
	}

	return randomizer.New(opts.cfg, store, orchOpts...).Run(ctx)
}

// serveMetrics starts the metrics endpoint in the background.
func serveMetrics(addr string, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	return srv
}

// getenv retrieves an environment variable with a default fallback.
func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
