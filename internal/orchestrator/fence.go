package orchestrator

// Pipeline names one independently fenced output: the neutralized customer
// text or the warm agent reply.
type Pipeline string

const (
	Neutral Pipeline = "neutral"
	Warm    Pipeline = "warm"
)

var pipelines = []Pipeline{Neutral, Warm}

// Fence hands out request generations per pipeline. A result may only be
// applied when the generation captured at Begin is still current. Fence is
// not safe for concurrent use; Console serializes it under its mutex.
type Fence struct {
	gens map[Pipeline]uint64
}

func NewFence() *Fence {
	return &Fence{gens: make(map[Pipeline]uint64)}
}

// Begin advances p and returns the new generation as the caller's token.
func (f *Fence) Begin(p Pipeline) uint64 {
	f.gens[p]++
	return f.gens[p]
}

// Invalidate advances p without issuing a token, so every outstanding token
// becomes stale.
func (f *Fence) Invalidate(p Pipeline) {
	f.gens[p]++
}

func (f *Fence) Current(p Pipeline) uint64 {
	return f.gens[p]
}

// Commit runs apply only if gen is still current and reports whether it did.
func (f *Fence) Commit(p Pipeline, gen uint64, apply func()) bool {
	if f.gens[p] != gen {
		return false
	}
	apply()
	return true
}
