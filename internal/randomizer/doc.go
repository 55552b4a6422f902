// Package randomizer produces a randomized copy of one or more segment files
// while holding only a bounded number of records in memory.
//
// # Overview
//
// A full in-memory shuffle needs the whole dataset resident. The randomizer
// instead splits the work in two passes over temporary bucket files:
//
//  1. Partition: every record of every input is appended to a bucket chosen
//     uniformly at random.
//  2. Shuffle: each bucket, small enough to fit in memory, is loaded,
//     permuted, and appended to the output.
//
// # Architecture
//
//	┌───────────────────────────────────────────────────────┐
//	│                    Orchestrator                       │
//	│  Init → Partitioning → BarrierWait → Shuffling →      │
//	│         Finalizing → Done          (any) → Failed     │
//	└───────────────────────────────────────────────────────┘
//	      │                  │                    │
//	      ▼                  ▼                    ▼
//	┌─────────────┐   ┌─────────────┐   ┌──────────────────┐
//	│ Partitioner │──►│  BucketSet  │──►│     Shuffler     │
//	│ Intn(N) per │   │ bucket0..N-1│   │ load, Permute,   │
//	│ record      │   │ (temp dir)  │   │ append to output │
//	└─────────────┘   └─────────────┘   └──────────────────┘
//	      ▲                                       │
//	      │          ┌─────────────┐              ▼
//	      └──────────│   Source    │──────► output.ssi
//	                 │ (one seed)  │
//	                 └─────────────┘
//
// # Sizing
//
// The bucket count is N = floor(T/C)+1, where T is the sum over inputs of
// min(cap, records) and C is the configured records per bucket. With T = 0
// there is one empty bucket and the output is empty.
//
// # Ordering Guarantees
//
// Records from bucket i all precede records from bucket j when i < j. Within
// a bucket the order is a uniform permutation. Cross-bucket order is fixed
// by bucket index and is not a global uniform shuffle.
//
// # Determinism
//
// A single Source, seeded from the configuration, serves every random draw
// in a fixed order: bucket draws in source-then-record order, then one
// permutation per bucket in ordinal order. The same seed and the same inputs
// produce byte-identical output.
//
// # Memory
//
// During partitioning each bucket writer buffers at most one chunk. During
// shuffling exactly one bucket is resident; Shuffler.PeakResident reports
// the largest.
//
// # Failure Handling
//
// Every error is fatal and is returned wrapped with the phase it occurred
// in. The temporary directory and the partial output are removed on a
// best-effort basis unless Config.KeepTempOnFailure is set. Cancellation of
// the context passed to Run is checked between records and between buckets.
//
// # Usage Examples
//
//	cfg := randomizer.DefaultConfig()
//	cfg.Inputs = []string{"data/a.ssi", "data/b.ssi"}
//	cfg.Output = "data/shuffled"
//
//	orch := randomizer.New(cfg, segment.NewFileStore(),
//	    randomizer.WithLogger(logger),
//	    randomizer.WithProgress(randomizer.NewProgressLogger(logger, 10*time.Second)),
//	)
//	res, err := orch.Run(ctx)
//	if err != nil {
//	    return err
//	}
//	fmt.Printf("wrote %d records through %d buckets\n", res.Written, res.Buckets)
package randomizer
