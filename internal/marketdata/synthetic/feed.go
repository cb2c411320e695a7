// Package synthetic generates a credential-less demo feed: a Gaussian
// random walk per registered symbol pushed through the same router as the
// live socket, so every downstream contract behaves identically.
package synthetic

import (
	"context"
	"log"
	"math"
	"math/rand"
	"strconv"
	"time"

	"github.com/Vishtheendodoc/orderflow-new/internal/app"
	"github.com/Vishtheendodoc/orderflow-new/internal/model"
)

const (
	batchSize     = 40
	batchInterval = 250 * time.Millisecond
	walkSigma     = 5.0
	halfSpread    = 0.5
	minQty        = 50
	maxQty        = 500
)

// Feed drives the synthetic tick generator.
type Feed struct {
	state  *app.State
	rng    *rand.Rand
	prices map[uint32]float64
	offset int
}

// New creates a synthetic feed over the shared state's registry.
func New(state *app.State) *Feed {
	return &Feed{
		state:  state,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		prices: make(map[uint32]float64),
	}
}

// Run emits one tick per symbol in rotated batches until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) {
	log.Println("[synthetic] running in demo mode")
	ticker := time.NewTicker(batchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.emitBatch()
		}
	}
}

// emitBatch walks the next rotation window of the registry.
func (f *Feed) emitBatch() {
	instruments := f.state.Instruments()
	if len(instruments) == 0 {
		return
	}

	start := f.offset % len(instruments)
	now := time.Now().UnixMilli()
	n := batchSize
	if n > len(instruments) {
		n = len(instruments)
	}

	for i := 0; i < n; i++ {
		in := instruments[(start+i)%len(instruments)]
		id64, err := strconv.ParseUint(in.SecurityID, 10, 32)
		if err != nil {
			continue
		}
		id := uint32(id64)

		ltp := f.nextPrice(id)
		f.state.Route(model.Tick{
			SecurityID: id,
			LTP:        ltp,
			LTQ:        float64(minQty + f.rng.Intn(maxQty-minQty+1)),
			Bid:        ltp - halfSpread,
			Ask:        ltp + halfSpread,
			TSMs:       now,
		})
	}
	f.offset += n
}

// nextPrice advances the random walk for one instrument, snapped to the
// 0.05 price grid and floored above zero.
func (f *Feed) nextPrice(id uint32) float64 {
	p, ok := f.prices[id]
	if !ok {
		p = 500 + f.rng.Float64()*4500
	}
	p += f.rng.NormFloat64() * walkSigma
	if p < 1 {
		p = 1
	}
	p = math.Round(p*model.TicksPerRupee) / model.TicksPerRupee
	f.prices[id] = p
	return p
}
