package zmachine

import (
	"math/rand"
	"time"
)

// rng implements the two RANDOM modes: a nondeterministic generator for
// play and a predictable wrapping counter that scripted tests rely on.
type rng struct {
	predictable bool
	period      uint16
	counter     uint16
	r           *rand.Rand
}

func newRNG() rng {
	return rng{r: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// seed handles the non-positive RANDOM arguments: 0 returns to
// nondeterministic mode, n < 0 enters predictable mode with period |n|.
func (g *rng) seed(n int16) {
	if n == 0 {
		g.predictable = false
		g.r = rand.New(rand.NewSource(time.Now().UnixNano()))
		return
	}

	g.predictable = true
	g.period = uint16(-n)
	g.counter = 0
}

// next returns a value in [1, n] in nondeterministic mode; in predictable
// mode it walks the counter 1..period regardless of n.
func (g *rng) next(n uint16) uint16 {
	if g.predictable {
		value := g.counter%g.period + 1
		g.counter++
		return value
	}

	return uint16(g.r.Int31n(int32(n))) + 1
}
