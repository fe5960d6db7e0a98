// Package analytics aggregates delivery outcomes into per-tenant, per-channel
// and per-campaign counters, and exports raw history.
package analytics

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"notification-engine/internal/common/logger"
	"notification-engine/internal/models"

	"github.com/redis/go-redis/v9"
)

// Counter field names inside the aggregate hashes.
const (
	fieldSent      = "sent"
	fieldDelivered = "delivered"
	fieldFailed    = "failed"
	fieldOpened    = "opened"
	fieldClicked   = "clicked"
	fieldBounced   = "bounced"
)

// dedupTTL bounds the idempotency marker lifetime; replays older than this
// are indistinguishable from new events, which is acceptable for counters
// that have long since been exported.
const dedupTTL = 14 * 24 * time.Hour

// Stats is one aggregate snapshot with rates computed on read.
type Stats struct {
	Sent         int64   `json:"sent"`
	Delivered    int64   `json:"delivered"`
	Failed       int64   `json:"failed"`
	Opened       int64   `json:"opened"`
	Clicked      int64   `json:"clicked"`
	Bounced      int64   `json:"bounced"`
	DeliveryRate float64 `json:"deliveryRate"`
	OpenRate     float64 `json:"openRate"`
	ClickRate    float64 `json:"clickRate"`
	BounceRate   float64 `json:"bounceRate"`
}

// Aggregator folds attempts and status transitions into redis hashes. Every
// event carries a unique id; the dedup marker and the counter moves commit in
// one script, so re-delivered events increment nothing and a half-applied
// event can never be recorded as seen.
type Aggregator struct {
	client *redis.Client
	logger logger.Logger
	now    func() time.Time
}

func NewAggregator(client *redis.Client, log logger.Logger) *Aggregator {
	return &Aggregator{
		client: client,
		logger: log.WithFields(map[string]interface{}{"component": "analytics"}),
		now:    time.Now,
	}
}

func tenantKey(tenantID string, ch models.Channel, day time.Time) string {
	return fmt.Sprintf("analytics:t:%s:%s:%s", tenantID, ch, day.UTC().Format("2006-01-02"))
}

func campaignKey(campaignID string) string {
	return "analytics:c:" + campaignID
}

// RecordAttempt counts one finished dispatch try. Satisfies the dispatcher's
// Recorder contract.
func (a *Aggregator) RecordAttempt(ctx context.Context, n *models.Notification, attempt *models.DeliveryAttempt) error {
	field := fieldSent
	if attempt.Outcome != models.OutcomeSent {
		field = fieldFailed
	}
	return a.increment(ctx, "attempt:"+attempt.ID, n, field, attempt.AttemptedAt)
}

// RecordStatus counts an asynchronous status transition (delivered, bounced,
// read, clicked). eventID must be unique per transition; callers use the
// provider message id plus the status.
func (a *Aggregator) RecordStatus(ctx context.Context, n *models.Notification, to models.Status, eventID string, at time.Time) error {
	var field string
	switch to {
	case models.StatusDelivered:
		field = fieldDelivered
	case models.StatusBounced:
		field = fieldBounced
	case models.StatusRead:
		field = fieldOpened
	case models.StatusClicked:
		field = fieldClicked
	default:
		return nil
	}
	return a.increment(ctx, "status:"+eventID, n, field, at)
}

// incrEvent claims the dedup marker and moves the counters atomically. A nil
// SET reply means the marker already existed and nothing is counted.
var incrEvent = redis.NewScript(`
if redis.call("SET", KEYS[1], 1, "NX", "PX", ARGV[1]) == false then
	return 0
end
redis.call("HINCRBY", KEYS[2], ARGV[2], 1)
if ARGV[3] ~= "" then
	redis.call("HINCRBY", ARGV[3], ARGV[2], 1)
end
return 1
`)

func (a *Aggregator) increment(ctx context.Context, eventID string, n *models.Notification, field string, at time.Time) error {
	var campaign string
	if n.CampaignID != "" {
		campaign = campaignKey(n.CampaignID)
	}
	applied, err := incrEvent.Run(ctx, a.client,
		[]string{"analytics:seen:" + eventID, tenantKey(n.TenantID, n.Channel, at)},
		dedupTTL.Milliseconds(), field, campaign).Int64()
	if err != nil {
		return err
	}
	if applied == 0 {
		a.logger.Debug("duplicate analytics event skipped", map[string]interface{}{
			"eventId": eventID, "field": field,
		})
	}
	return nil
}

// TenantStats reads one tenant/channel/day aggregate.
func (a *Aggregator) TenantStats(ctx context.Context, tenantID string, ch models.Channel, day time.Time) (*Stats, error) {
	return a.read(ctx, tenantKey(tenantID, ch, day))
}

// CampaignStats reads one campaign's lifetime aggregate.
func (a *Aggregator) CampaignStats(ctx context.Context, campaignID string) (*Stats, error) {
	return a.read(ctx, campaignKey(campaignID))
}

func (a *Aggregator) read(ctx context.Context, key string) (*Stats, error) {
	raw, err := a.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}

	get := func(field string) int64 {
		v, _ := strconv.ParseInt(raw[field], 10, 64)
		return v
	}
	stats := &Stats{
		Sent:      get(fieldSent),
		Delivered: get(fieldDelivered),
		Failed:    get(fieldFailed),
		Opened:    get(fieldOpened),
		Clicked:   get(fieldClicked),
		Bounced:   get(fieldBounced),
	}
	stats.DeliveryRate = rate(stats.Delivered, stats.Sent)
	stats.BounceRate = rate(stats.Bounced, stats.Sent)
	stats.OpenRate = rate(stats.Opened, stats.Delivered)
	stats.ClickRate = rate(stats.Clicked, stats.Delivered)
	return stats, nil
}

func rate(part, whole int64) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) / float64(whole)
}
