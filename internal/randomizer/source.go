package randomizer

import (
	"math/rand/v2"
)

// seedStream is the fixed second half of the PCG state, so that a run is
// fully determined by the user-supplied seed.
const seedStream = 0x9e3779b97f4a7c15

// Source is the single seeded random generator shared by a run.
//
// Draw order is part of the output contract: for a fixed seed and fixed
// inputs, a run performs
//
//  1. one Intn(N) per partitioned record, in source order then record order;
//  2. one Permute per bucket, in ascending bucket order.
//
// Any change to that order changes the output. Source is not safe for
// concurrent use.
type Source struct {
	rng   *rand.Rand
	seed  int64
	draws uint64
}

// NewSource returns a generator seeded with seed.
func NewSource(seed int64) *Source {
	return &Source{
		rng:  rand.New(rand.NewPCG(uint64(seed), seedStream)),
		seed: seed,
	}
}

// Seed returns the seed the generator was created with.
func (s *Source) Seed() int64 {
	return s.seed
}

// Intn returns a uniform integer in [0, n). It panics if n <= 0.
func (s *Source) Intn(n int) int {
	s.draws++
	return s.rng.IntN(n)
}

// Permute applies a uniform random permutation to n elements with a
// Fisher–Yates shuffle, calling swap to exchange elements.
func (s *Source) Permute(n int, swap func(i, j int)) {
	s.rng.Shuffle(n, swap)
}

// Draws returns how many Intn draws have been made.
func (s *Source) Draws() uint64 {
	return s.draws
}
