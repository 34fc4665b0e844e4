// Package models defines the metric value objects produced by the router
// parsers and the GORM rows persisted for dashboard history.
package models

import "time"

// Poll categories. These double as cache keys.
const (
	CategoryInterfaces = "interfaces"
	CategoryPppoeStats = "pppoe_stats"
	CategorySystem     = "system_metrics"
	CategoryTraffic    = "traffic_data"
)

// Categories lists every poll category in collection order.
var Categories = []string{
	CategoryInterfaces,
	CategoryPppoeStats,
	CategorySystem,
	CategoryTraffic,
}

// InterfaceRecord is one row of `display interface brief`.
// Value object: never mutated in place, only replaced wholesale.
type InterfaceRecord struct {
	Name        string  `json:"name"`
	Status      string  `json:"status"`
	Protocol    string  `json:"protocol"`
	IPAddress   string  `json:"ip_address"`
	Description string  `json:"description"`
	InUtil      float64 `json:"utilization_in"`  // percent 0-100
	OutUtil     float64 `json:"utilization_out"` // percent 0-100
}

// PppoeStats summarizes access-user sessions.
type PppoeStats struct {
	Total         int       `json:"total"`
	Active        int       `json:"active"`
	Peak          int       `json:"peak"`
	Authenticated int       `json:"authenticated"`
	LastUpdate    time.Time `json:"last_update"`
}

// SystemMetrics holds device health figures from the system display commands.
type SystemMetrics struct {
	CPUPercent    float64   `json:"cpu"`
	MemoryPercent float64   `json:"memory"`
	Uptime        string    `json:"uptime"`
	Version       string    `json:"version"`
	Model         string    `json:"model"`
	Temperature   float64   `json:"temperature"`
	LastUpdate    time.Time `json:"last_update"`
}

// TrafficStats aggregates interface utilization into dashboard totals.
// Values are utilization percentages averaged across reporting interfaces.
type TrafficStats struct {
	Inbound    float64   `json:"inbound"`
	Outbound   float64   `json:"outbound"`
	Total      float64   `json:"total"`
	PeakIn     float64   `json:"peak_in"`
	PeakOut    float64   `json:"peak_out"`
	LastUpdate time.Time `json:"last_update"`
}

// RouterStatus reports device reachability, written by the poller.
type RouterStatus struct {
	Online    bool      `json:"online"`
	Protocol  string    `json:"protocol"`
	LastError string    `json:"last_error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}
