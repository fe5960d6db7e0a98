package quota

import (
	"context"
	"errors"
	"sync"
	"time"

	"notification-engine/internal/models"
)

var errOverLimit = errors.New("quota window full")

// MemoryCounter is the in-memory Counter used by tests.
type MemoryCounter struct {
	mu     sync.Mutex
	counts map[string]int64
}

var _ Counter = (*MemoryCounter)(nil)

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{counts: map[string]int64{}}
}

func (c *MemoryCounter) Consume(ctx context.Context, tenantID string, ch models.Channel, settings *models.TenantSettings, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	daily := settings.QuotaFor(ch, models.QuotaDaily)
	monthly := settings.QuotaFor(ch, models.QuotaMonthly)

	dk, mk := dayKey(tenantID, ch, now), monthKey(tenantID, ch, now)
	if daily > 0 && c.counts[dk]+1 > daily {
		return exceeded(tenantID, ch, models.QuotaDaily)
	}
	if monthly > 0 && c.counts[mk]+1 > monthly {
		return exceeded(tenantID, ch, models.QuotaMonthly)
	}
	if daily > 0 {
		c.counts[dk]++
	}
	if monthly > 0 {
		c.counts[mk]++
	}
	return nil
}

func (c *MemoryCounter) Usage(_ context.Context, tenantID string, ch models.Channel, window models.QuotaWindow, now time.Time) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := dayKey(tenantID, ch, now)
	if window == models.QuotaMonthly {
		key = monthKey(tenantID, ch, now)
	}
	return c.counts[key], nil
}
