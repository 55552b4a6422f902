package randomizer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dreamware/segshuffle/internal/segment"
)

// Defaults match the long-standing behaviour of the randomizer tool.
const (
	DefaultRecordsPerBucket = 20000
	DefaultChunkSize        = 1000
	DefaultOutputChunkSize  = 10000
	DefaultSeed             = 232323
	DefaultProgressInterval = 10 * time.Second
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config describes one randomization run.
type Config struct {
	// Inputs are the logical segment files to read, in order. The
	// companion metadata of the first input is copied to the output.
	Inputs []string

	// Output is the logical output file (".ssi" suffix optional).
	Output string

	// RecordsPerBucket is the target bucket capacity C. The bucket count
	// is floor(T/C)+1.
	RecordsPerBucket int64

	// ChunkSize is the records-per-chunk of every bucket writer.
	ChunkSize int

	// OutputChunkSize is the records-per-chunk of the output writer.
	OutputChunkSize int

	// Seed drives every random draw of the run.
	Seed int64

	// ReadN caps how many leading records are read from each input.
	// Zero means no cap.
	ReadN int64

	// TempDir is the parent of the run's bucket directory, which is always
	// a fresh "tmp-<run id>" child. Empty means the output's directory.
	TempDir string

	// KeepTempOnFailure leaves bucket files and partial output in place
	// when a run fails.
	KeepTempOnFailure bool

	// ProgressInterval is how often progress is logged.
	ProgressInterval time.Duration
}

// DefaultConfig returns a Config with every tunable at its default.
func DefaultConfig() Config {
	return Config{
		RecordsPerBucket: DefaultRecordsPerBucket,
		ChunkSize:        DefaultChunkSize,
		OutputChunkSize:  DefaultOutputChunkSize,
		Seed:             DefaultSeed,
		ProgressInterval: DefaultProgressInterval,
	}
}

// Validate rejects configurations that could only fail mid-run.
func (c Config) Validate() error {
	if len(c.Inputs) == 0 {
		return fmt.Errorf("%w: at least one input file is required", ErrInvalidConfig)
	}
	for i, in := range c.Inputs {
		if in == "" {
			return fmt.Errorf("%w: input %d is empty", ErrInvalidConfig, i)
		}
	}
	if c.Output == "" {
		return fmt.Errorf("%w: output path is required", ErrInvalidConfig)
	}
	for _, in := range c.Inputs {
		same, err := sameSegment(in, c.Output)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		if same {
			return fmt.Errorf("%w: output %s is also input %s", ErrInvalidConfig, c.Output, in)
		}
	}
	if c.RecordsPerBucket <= 0 {
		return fmt.Errorf("%w: records per bucket must be positive, got %d", ErrInvalidConfig, c.RecordsPerBucket)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidConfig, c.ChunkSize)
	}
	if c.OutputChunkSize <= 0 {
		return fmt.Errorf("%w: output chunk size must be positive, got %d", ErrInvalidConfig, c.OutputChunkSize)
	}
	if c.ReadN < 0 {
		return fmt.Errorf("%w: read cap must not be negative, got %d", ErrInvalidConfig, c.ReadN)
	}
	if c.ProgressInterval < 0 {
		return fmt.Errorf("%w: progress interval must not be negative", ErrInvalidConfig)
	}
	return nil
}

// sameSegment reports whether two paths name the same logical file, either
// textually once made absolute or, when both data files exist, as the same
// file on disk.
func sameSegment(a, b string) (bool, error) {
	absA, err := filepath.Abs(segment.Basename(a))
	if err != nil {
		return false, err
	}
	absB, err := filepath.Abs(segment.Basename(b))
	if err != nil {
		return false, err
	}
	if absA == absB {
		return true, nil
	}
	infoA, errA := os.Stat(segment.DataPath(absA))
	infoB, errB := os.Stat(segment.DataPath(absB))
	if errA != nil || errB != nil {
		return false, nil
	}
	return os.SameFile(infoA, infoB), nil
}

// capFor returns how many records of a source with n records are used.
func (c Config) capFor(n int64) int64 {
	if c.ReadN > 0 && c.ReadN < n {
		return c.ReadN
	}
	return n
}

// tempDirFor returns the bucket directory for a run.
func (c Config) tempDirFor(runID string) string {
	parent := c.TempDir
	if parent == "" {
		parent = filepath.Dir(c.Output)
	}
	return filepath.Join(parent, "tmp-"+runID)
}
