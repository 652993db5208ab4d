package steps

import (
	"context"
	"time"

	"github.com/yungbote/listinglens-backend/internal/pkg/httpx"
)

const (
	DefaultSearchDelayMin = 2 * time.Second
	DefaultSearchDelayMax = 4 * time.Second
)

// Pacer spaces sequential marketplace searches with a randomized delay.
type Pacer struct {
	Min time.Duration
	Max time.Duration
}

func NewPacer(min, max time.Duration) *Pacer {
	if min < 0 {
		min = 0
	}
	if max < min {
		max = min
	}
	return &Pacer{Min: min, Max: max}
}

// Wait blocks for a random delay in [Min, Max] or until ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil {
		return ctx.Err()
	}
	return httpx.Sleep(ctx, httpx.Between(p.Min, p.Max))
}
