// Package main implements ssigen, a generator of synthetic segment files
// used to exercise and benchmark the randomizer.
//
// Each generated record is a small protobuf-wire message:
//
//	field 1 (varint): file index
//	field 2 (varint): record index within the file
//	field 3 (bytes):  random payload of -size bytes
//
// Records are written in index order, so a randomized copy is easy to tell
// apart from its input. The first file gets a companion with the dataset id
// and the generation parameters.
//
// Example usage:
//
//	# Four files of 250k records each under data/
//	./ssigen -dir data -files 4 -records 250000 -size 64
//
//	./randomizer -o data/shuffled -b 50000 data/part-000 data/part-001 data/part-002 data/part-003
//
//	# Report the size a dataset would have without writing it
//	./ssigen -dry-run -files 16 -records 1000000 -size 256
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/dreamware/segshuffle/internal/logging"
	"github.com/dreamware/segshuffle/internal/segment"
)

// logFatal is a variable to allow mocking log.Fatalf in tests.
var logFatal = log.Fatalf

// maxParallelFiles bounds how many files are written at once.
const maxParallelFiles = 4

type genOptions struct {
	dir     string
	files   int
	records int
	size    int
	chunk   int
	seed    int64
	dryRun  bool
}

func main() {
	var opts genOptions
	flag.StringVar(&opts.dir, "dir", "data", "output directory")
	flag.IntVar(&opts.files, "files", 2, "number of files to generate")
	flag.IntVar(&opts.records, "records", 10000, "records per file")
	flag.IntVar(&opts.size, "size", 32, "random payload bytes per record")
	flag.IntVar(&opts.chunk, "chunk", 1000, "records per chunk")
	flag.Int64Var(&opts.seed, "seed", 1, "payload seed")
	flag.BoolVar(&opts.dryRun, "dry-run", false, "generate in memory and report sizes only")
	flag.Parse()

	logger, err := logging.New(getenv("LOG_LEVEL", "info"))
	if err != nil {
		logFatal("ssigen: %v", err)
		return
	}
	defer func() { _ = logger.Sync() }()

	if opts.dryRun {
		if _, err := dryRun(context.Background(), opts, logger); err != nil {
			logFatal("ssigen: %v", err)
		}
		return
	}

	paths, err := generate(context.Background(), opts, segment.NewFileStore(), logger)
	if err != nil {
		logFatal("ssigen: %v", err)
		return
	}
	logger.Info("generated", zap.Strings("files", paths), zap.Int("records_per_file", opts.records))
}

// dryRun generates the dataset into memory and logs what would have been
// written.
func dryRun(ctx context.Context, opts genOptions, logger *zap.Logger) (segment.StoreStats, error) {
	store := segment.NewMemoryStore()
	if _, err := generate(ctx, opts, store, logger); err != nil {
		return segment.StoreStats{}, err
	}
	stats := store.Stats()
	logger.Info("dry run",
		zap.Strings("files", store.List()),
		zap.Int64("records", stats.Records),
		zap.Int64("payload_bytes", stats.Bytes),
	)
	return stats, nil
}

// generate writes opts.files segment files under opts.dir and returns their
// logical paths in order.
func generate(ctx context.Context, opts genOptions, store segment.Store, logger *zap.Logger) ([]string, error) {
	if opts.files <= 0 || opts.records < 0 || opts.size < 0 {
		return nil, fmt.Errorf("files must be positive and records, size non-negative")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := store.MkdirAll(opts.dir); err != nil {
		return nil, err
	}

	paths := make([]string, opts.files)
	for i := range paths {
		paths[i] = filepath.Join(opts.dir, fmt.Sprintf("part-%03d", i))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelFiles)
	for i, p := range paths {
		g.Go(func() error {
			if err := writeFile(gctx, store, p, i, opts); err != nil {
				return fmt.Errorf("%s: %w", p, err)
			}
			logger.Debug("file written", zap.String("path", segment.DataPath(p)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	props := map[string]string{
		"dataset":        uuid.NewString(),
		"files":          strconv.Itoa(opts.files),
		"recordsPerFile": strconv.Itoa(opts.records),
		"payloadBytes":   strconv.Itoa(opts.size),
		"seed":           strconv.FormatInt(opts.seed, 10),
	}
	if err := store.PutCompanion(paths[0], segment.EncodeProperties(props)); err != nil {
		return nil, err
	}
	return paths, nil
}

func writeFile(ctx context.Context, store segment.Store, path string, file int, opts genOptions) error {
	w, err := store.OpenWriter(path, opts.chunk)
	if err != nil {
		return err
	}
	rng := rand.New(rand.NewPCG(uint64(opts.seed), uint64(file)))
	payload := make([]byte, opts.size)
	var buf []byte
	for i := 0; i < opts.records; i++ {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		for j := range payload {
			payload[j] = byte(rng.UintN(256))
		}
		buf = encodeRecord(buf[:0], file, i, payload)
		if err := w.Append(buf); err != nil {
			return err
		}
	}
	return w.Close()
}

func encodeRecord(b []byte, file, index int, payload []byte) []byte {
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(file))
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(index))
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	return protowire.AppendBytes(b, payload)
}

// decodeRecord reverses encodeRecord.
func decodeRecord(b []byte) (file, index int, payload []byte, err error) {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return 0, 0, nil, protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return 0, 0, nil, protowire.ParseError(m)
			}
			file, b = int(v), b[m:]
		case num == 2 && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return 0, 0, nil, protowire.ParseError(m)
			}
			index, b = int(v), b[m:]
		case num == 3 && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return 0, 0, nil, protowire.ParseError(m)
			}
			payload, b = v, b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return 0, 0, nil, protowire.ParseError(m)
			}
			b = b[m:]
		}
	}
	return file, index, payload, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
