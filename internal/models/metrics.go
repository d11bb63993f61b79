package models

import "time"

// SystemMetrics is a JSON snapshot of the service counters.
type SystemMetrics struct {
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	RecomputesRefreshed      uint64    `json:"recomputes_refreshed"`
	RecomputesFailed         uint64    `json:"recomputes_failed"`
	RecomputeConflicts       uint64    `json:"recompute_conflicts"`
	OrphanedMarksSkipped     uint64    `json:"orphaned_marks_skipped"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
