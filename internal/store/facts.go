package store

import (
	"math/rand/v2"
	"sync"
)

// FactSource produces display names for generated rows.
type FactSource interface {
	Fact() string
}

var facts = []string{
	"Chuck Norris can divide by zero.",
	"Chuck Norris counted to infinity. Twice.",
	"Chuck Norris doesn't read books. He stares them down until he gets the information he wants.",
	"Chuck Norris can unit test entire applications with a single assert.",
	"Chuck Norris's keyboard doesn't have a Ctrl key because nothing controls Chuck Norris.",
	"When Chuck Norris throws exceptions, it's across the room.",
	"Chuck Norris doesn't need garbage collection because he doesn't call .Dispose(), he calls .DropKick().",
	"Chuck Norris can compile syntax errors.",
	"Chuck Norris's code never deadlocks. Goroutines wait for him out of respect.",
	"Chuck Norris can write infinite recursion functions and have them return.",
	"Chuck Norris can make a class that is both abstract and final.",
	"All arrays Chuck Norris declares are of infinite size, because Chuck Norris knows no bounds.",
	"Chuck Norris doesn't use version control. The code wouldn't dare change without him.",
	"Chuck Norris rewrote the Redis protocol in one line. The line is a roundhouse kick.",
	"Chuck Norris's SQL queries never need an index. The rows come to him.",
}

// RandomFacts draws facts uniformly. Safe for concurrent use.
type RandomFacts struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomFacts seeds a generator; equal seeds give equal sequences.
func NewRandomFacts(seed uint64) *RandomFacts {
	return &RandomFacts{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (f *RandomFacts) Fact() string {
	f.mu.Lock()
	i := f.rng.IntN(len(facts))
	f.mu.Unlock()
	return facts[i]
}
