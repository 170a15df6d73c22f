package dispatch

import (
	"math/rand/v2"
	"sync"

	"github.com/kilianp07/organlink/core/model"
)

// Config defines driver selection settings.
type Config struct {
	// Seed makes the order among drivers of one hospital reproducible. Zero
	// keeps the random order.
	Seed uint64 `json:"seed"`
}

// Apply configures c. It must be called before c serves requests.
func (c *Coordinator) Apply(cfg Config) {
	if cfg.Seed == 0 {
		return
	}
	var mu sync.Mutex
	r := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed))
	c.shuffle = func(d []model.Driver) {
		mu.Lock()
		defer mu.Unlock()
		r.Shuffle(len(d), func(i, j int) { d[i], d[j] = d[j], d[i] })
	}
}
