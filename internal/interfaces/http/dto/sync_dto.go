package dto

import (
	apprelay "github.com/neese/crmsync/internal/application/relay"
	"github.com/neese/crmsync/internal/domain/relay"
)

// DeliveryStatus is the per-event outcome reported by a manual pass
type DeliveryStatus struct {
	Key        string `json:"key"`
	Kind       string `json:"tipo_evento,omitempty"`
	Success    bool   `json:"success"`
	StatusCode int    `json:"status_code,omitempty"`
	Error      string `json:"error,omitempty"`
}

// SyncPassResponse summarizes one sync pass
type SyncPassResponse struct {
	PassID            string           `json:"pass_id"`
	Trigger           string           `json:"trigger"`
	WindowStart       string           `json:"window_start"`
	WindowEnd         string           `json:"window_end"`
	EventsFound       int              `json:"events_found"`
	EventsRegistered  int              `json:"events_registered"`
	EventsDelivered   int              `json:"events_delivered"`
	EventsFailed      int              `json:"events_failed"`
	Retried           int              `json:"retried"`
	RetriedDelivered  int              `json:"retried_delivered"`
	DurationMs        int64            `json:"duration_ms"`
	WatermarkAdvanced bool             `json:"watermark_advanced"`
	Error             string           `json:"error,omitempty"`
	Deliveries        []DeliveryStatus `json:"deliveries,omitempty"`
}

// NewSyncPassResponse converts a pass result. Per-event outcomes are
// included only when withDeliveries is set.
func NewSyncPassResponse(trigger relay.TriggerSource, r *apprelay.SyncResult, withDeliveries bool) SyncPassResponse {
	resp := SyncPassResponse{
		PassID:            r.PassID.String(),
		Trigger:           string(trigger),
		WindowStart:       FormatTime(r.WindowStart),
		WindowEnd:         FormatTime(r.WindowEnd),
		EventsFound:       r.EventsFound,
		EventsRegistered:  r.EventsRegistered,
		EventsDelivered:   r.EventsDelivered,
		EventsFailed:      r.EventsFailed,
		Retried:           r.Retried,
		RetriedDelivered:  r.RetriedDelivered,
		DurationMs:        r.Duration.Milliseconds(),
		WatermarkAdvanced: r.WatermarkAdvanced,
	}
	if r.Err != nil {
		resp.Error = r.Err.Error()
	}
	if withDeliveries {
		resp.Deliveries = make([]DeliveryStatus, 0, len(r.Deliveries))
		for _, d := range r.Deliveries {
			resp.Deliveries = append(resp.Deliveries, NewDeliveryStatus(d))
		}
	}
	return resp
}

// NewDeliveryStatus converts a single delivery result
func NewDeliveryStatus(d relay.DeliveryResult) DeliveryStatus {
	status := DeliveryStatus{
		Key:        d.Key,
		Kind:       string(d.Kind),
		Success:    d.Success,
		StatusCode: d.StatusCode,
	}
	if d.Err != nil {
		status.Error = d.Err.Error()
	}
	return status
}

// SyncLogResponse is one row of the pass history
type SyncLogResponse struct {
	ID              string `json:"id"`
	Trigger         string `json:"tipo"`
	WindowStart     string `json:"window_start"`
	WindowEnd       string `json:"window_end"`
	StartedAt       string `json:"inicio"`
	FinishedAt      string `json:"fim"`
	DurationMs      int64  `json:"duracao_ms"`
	EventsFound     int    `json:"eventos_encontrados"`
	EventsProcessed int    `json:"eventos_processados"`
	EventsDelivered int    `json:"eventos_enviados"`
	Status          string `json:"status"`
	Error           string `json:"erro,omitempty"`
}

// NewSyncLogResponses converts persisted pass summaries
func NewSyncLogResponses(logs []relay.SyncLog) []SyncLogResponse {
	out := make([]SyncLogResponse, 0, len(logs))
	for _, l := range logs {
		out = append(out, SyncLogResponse{
			ID:              l.ID.String(),
			Trigger:         string(l.Trigger),
			WindowStart:     FormatTime(l.WindowStart),
			WindowEnd:       FormatTime(l.WindowEnd),
			StartedAt:       FormatTime(l.StartedAt),
			FinishedAt:      FormatTime(l.FinishedAt),
			DurationMs:      l.DurationMs,
			EventsFound:     l.EventsFound,
			EventsProcessed: l.EventsProcessed,
			EventsDelivered: l.EventsDelivered,
			Status:          string(l.Status),
			Error:           l.Error,
		})
	}
	return out
}

// LedgerStatsResponse reports ledger counts
type LedgerStatsResponse struct {
	Total     int64 `json:"total"`
	Delivered int64 `json:"enviados"`
	Pending   int64 `json:"pendentes"`
}

// NewLedgerStatsResponse converts ledger statistics
func NewLedgerStatsResponse(s relay.LedgerStats) LedgerStatsResponse {
	return LedgerStatsResponse{Total: s.Total, Delivered: s.Delivered, Pending: s.Pending}
}

// RetentionConfigResponse echoes the retention windows applied by a purge
type RetentionConfigResponse struct {
	LedgerDays  int `json:"dias_eventos"`
	SyncLogDays int `json:"dias_logs"`
}

// CleanupResponse reports what a purge removed
type CleanupResponse struct {
	EventsRemoved int64                   `json:"events_removed"`
	LogsRemoved   int64                   `json:"logs_removed"`
	Config        RetentionConfigResponse `json:"config"`
}

// NewCleanupResponse converts a purge result
func NewCleanupResponse(r *apprelay.PurgeResult) CleanupResponse {
	return CleanupResponse{
		EventsRemoved: r.EventsRemoved,
		LogsRemoved:   r.LogsRemoved,
		Config: RetentionConfigResponse{
			LedgerDays:  r.Config.LedgerDays,
			SyncLogDays: r.Config.SyncLogDays,
		},
	}
}
