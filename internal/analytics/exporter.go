package analytics

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"notification-engine/internal/models"
	"notification-engine/internal/store"
)

// Format selects the export encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// Exporter dumps raw notification and attempt history for a date range.
type Exporter struct {
	notifications store.NotificationStore
	attempts      store.AttemptStore
}

func NewExporter(notifications store.NotificationStore, attempts store.AttemptStore) *Exporter {
	return &Exporter{notifications: notifications, attempts: attempts}
}

type exportDocument struct {
	TenantID      string                    `json:"tenantId"`
	From          time.Time                 `json:"from"`
	To            time.Time                 `json:"to"`
	Notifications []*models.Notification    `json:"notifications"`
	Attempts      []*models.DeliveryAttempt `json:"attempts"`
}

// Export writes the tenant's history between from and to into w.
func (e *Exporter) Export(ctx context.Context, w io.Writer, format Format, tenantID string, from, to time.Time) error {
	notifications, err := e.notifications.ListForExport(ctx, tenantID, from, to)
	if err != nil {
		return err
	}
	attempts, err := e.attempts.ListForExport(ctx, tenantID, from, to)
	if err != nil {
		return err
	}

	switch format {
	case FormatJSON:
		doc := exportDocument{
			TenantID:      tenantID,
			From:          from,
			To:            to,
			Notifications: notifications,
			Attempts:      attempts,
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)

	case FormatCSV:
		return writeCSV(w, notifications, attempts)

	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}

// writeCSV emits two record kinds in one stream, tagged by the first column.
func writeCSV(w io.Writer, notifications []*models.Notification, attempts []*models.DeliveryAttempt) error {
	cw := csv.NewWriter(w)

	header := []string{
		"record", "id", "notification_id", "tenant_id", "channel", "type",
		"status_or_outcome", "provider", "error_or_reason", "attempts_or_latency_ms",
		"created_or_attempted_at",
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, n := range notifications {
		row := []string{
			"notification", n.ID, "", n.TenantID, string(n.Channel), string(n.Type),
			string(n.Status), n.Provider, n.FailureReason,
			strconv.Itoa(n.AttemptCount), n.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	for _, a := range attempts {
		row := []string{
			"attempt", a.ID, a.NotificationID, a.TenantID, string(a.Channel), "",
			string(a.Outcome), a.Provider, a.ErrorCode,
			strconv.FormatInt(a.LatencyMS, 10), a.AttemptedAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}
