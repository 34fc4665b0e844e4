package models

import (
	"time"

	"gorm.io/gorm"
)

// TrafficSample is a persisted traffic snapshot. The poller appends one row
// per traffic collection; the API serves them for the history chart.
type TrafficSample struct {
	gorm.Model

	Inbound  float64 `json:"inbound"`
	Outbound float64 `json:"outbound"`
	Total    float64 `json:"total"`
	PeakIn   float64 `json:"peak_in"`
	PeakOut  float64 `json:"peak_out"`

	SampledAt time.Time `gorm:"index" json:"sampled_at"`
}

// InterfaceAction is an audit row for operator actions on interfaces
// (shutdown / undo shutdown). Written by the API layer, never updated.
type InterfaceAction struct {
	gorm.Model

	Interface string `gorm:"index;not null" json:"interface"`
	Action    string `gorm:"not null" json:"action"`
	User      string `gorm:"index" json:"user"`
	Success   bool   `json:"success"`
	Details   string `json:"details"`
}

// PppoeAction is an audit row for operator actions on subscriber
// sessions (forced disconnect).
type PppoeAction struct {
	gorm.Model

	Username string `gorm:"index;not null" json:"username"`
	Action   string `gorm:"not null" json:"action"`
	User     string `gorm:"index" json:"user"`
	Success  bool   `json:"success"`
	Details  string `json:"details"`
}
