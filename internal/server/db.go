package server

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Br10Consultoria/webhuawei/internal/models"
)

// DB wraps the sqlite store for traffic history and the interface
// action audit trail.
type DB struct {
	conn *gorm.DB
}

// OpenDB opens (or creates) the sqlite database and migrates the schema.
func OpenDB(path string) (*DB, error) {
	conn, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	if err := conn.AutoMigrate(&models.TrafficSample{}, &models.InterfaceAction{}, &models.PppoeAction{}); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return &DB{conn: conn}, nil
}

// SaveTrafficSample appends one traffic measurement to the history.
func (d *DB) SaveTrafficSample(stats models.TrafficStats) error {
	sample := models.TrafficSample{
		Inbound:   stats.Inbound,
		Outbound:  stats.Outbound,
		Total:     stats.Total,
		PeakIn:    stats.PeakIn,
		PeakOut:   stats.PeakOut,
		SampledAt: stats.LastUpdate,
	}
	return d.conn.Create(&sample).Error
}

// TrafficHistory returns samples newer than since, oldest first,
// capped at limit rows.
func (d *DB) TrafficHistory(since time.Time, limit int) ([]models.TrafficSample, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	var samples []models.TrafficSample
	err := d.conn.
		Where("sampled_at >= ?", since).
		Order("sampled_at asc").
		Limit(limit).
		Find(&samples).Error
	return samples, err
}

// RecordInterfaceAction writes one audit row for a shutdown or
// undo-shutdown performed through the API.
func (d *DB) RecordInterfaceAction(iface, action, user string, success bool, details string) error {
	row := models.InterfaceAction{
		Interface: iface,
		Action:    action,
		User:      user,
		Success:   success,
		Details:   details,
	}
	return d.conn.Create(&row).Error
}

// RecentInterfaceActions returns the newest audit rows first.
func (d *DB) RecentInterfaceActions(limit int) ([]models.InterfaceAction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows []models.InterfaceAction
	err := d.conn.Order("created_at desc").Limit(limit).Find(&rows).Error
	return rows, err
}

// RecordPppoeAction writes one audit row for a forced subscriber
// disconnect performed through the API.
func (d *DB) RecordPppoeAction(username, action, user string, success bool, details string) error {
	row := models.PppoeAction{
		Username: username,
		Action:   action,
		User:     user,
		Success:  success,
		Details:  details,
	}
	return d.conn.Create(&row).Error
}

// RecentPppoeActions returns the newest audit rows first.
func (d *DB) RecentPppoeActions(limit int) ([]models.PppoeAction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows []models.PppoeAction
	err := d.conn.Order("created_at desc").Limit(limit).Find(&rows).Error
	return rows, err
}

// PruneTrafficHistory deletes samples older than the retention window.
func (d *DB) PruneTrafficHistory(olderThan time.Time) (int64, error) {
	res := d.conn.Where("sampled_at < ?", olderThan).Delete(&models.TrafficSample{})
	return res.RowsAffected, res.Error
}
