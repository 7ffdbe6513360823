package models

import (
	"time"

	"github.com/noah-isme/demande-api/internal/workflow"
)

// DashboardScope names the population a dashboard aggregates over.
type DashboardScope string

const (
	DashboardScopeMine       DashboardScope = "mine"
	DashboardScopeDepartment DashboardScope = "department"
	DashboardScopeAll        DashboardScope = "all"
)

// DashboardStats aggregates request counts for the viewer's scope.
type DashboardStats struct {
	Scope           DashboardScope          `json:"scope"`
	Department      string                  `json:"department,omitempty"`
	Total           int                     `json:"total"`
	ByStatus        map[workflow.Status]int `json:"by_status"`
	AwaitingMe      int                     `json:"awaiting_me"`
	ForwardedByChef int                     `json:"forwarded_by_chef"`
	Catalog         *CatalogStats           `json:"catalog,omitempty"`
	GeneratedAt     time.Time               `json:"generated_at"`
}

// SystemMetrics is a point-in-time summary of the process counters.
type SystemMetrics struct {
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	DBQueryCount             uint64    `json:"db_query_count"`
	AverageDBQueryDurationMs float64   `json:"average_db_query_duration_ms"`
	TransitionsTotal         uint64    `json:"transitions_total"`
	RealtimeClients          int       `json:"realtime_clients"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
