package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// HeartbeatService reads and writes controller_heartbeats
type HeartbeatService struct {
	db  *gorm.DB
	now func() time.Time
}

// NewHeartbeatService creates a new heartbeat service
func NewHeartbeatService(db *gorm.DB) *HeartbeatService {
	return &HeartbeatService{db: db, now: time.Now}
}

// HeartbeatInput is what an agent reports. The timestamp is always assigned
// by the server so readers and writers share one clock.
type HeartbeatInput struct {
	FirmwareVersion string
	IPAddress       string
	UptimeSeconds   int64
}

// Record appends a heartbeat for controllerID stamped with the server clock.
func (s *HeartbeatService) Record(ctx context.Context, controllerID uuid.UUID, in HeartbeatInput) (*ControllerHeartbeat, error) {
	hb := &ControllerHeartbeat{
		ControllerID:    controllerID,
		Timestamp:       s.now().UTC(),
		FirmwareVersion: in.FirmwareVersion,
		IPAddress:       in.IPAddress,
		UptimeSeconds:   in.UptimeSeconds,
	}
	if err := s.db.WithContext(ctx).Create(hb).Error; err != nil {
		return nil, fmt.Errorf("failed to record heartbeat: %w", err)
	}
	return hb, nil
}

// latestIDs selects the newest heartbeat row of every controller.
func (s *HeartbeatService) latestIDs(db *gorm.DB) *gorm.DB {
	return db.Model(&ControllerHeartbeat{}).Select("MAX(id)").Group("controller_id")
}

// LatestMap returns controllerID -> latest heartbeat timestamp. When
// enterpriseID is set only that enterprise's controllers are included.
func (s *HeartbeatService) LatestMap(ctx context.Context, enterpriseID *uuid.UUID) (map[uuid.UUID]time.Time, error) {
	db := s.db.WithContext(ctx)
	q := db.Model(&ControllerHeartbeat{}).Where("controller_heartbeats.id IN (?)", s.latestIDs(db))
	if enterpriseID != nil {
		q = q.Joins("JOIN controllers ON controllers.id = controller_heartbeats.controller_id").
			Where("controllers.enterprise_id = ?", *enterpriseID)
	}

	var rows []ControllerHeartbeat
	if err := q.Select("controller_heartbeats.controller_id", "controller_heartbeats.timestamp").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load latest heartbeats: %w", err)
	}

	out := make(map[uuid.UUID]time.Time, len(rows))
	for _, r := range rows {
		if held, ok := out[r.ControllerID]; !ok || r.Timestamp.After(held) {
			out[r.ControllerID] = r.Timestamp
		}
	}
	return out, nil
}

// Latest returns the newest heartbeat of a controller, ErrNotFound if it never reported.
func (s *HeartbeatService) Latest(ctx context.Context, controllerID uuid.UUID) (*ControllerHeartbeat, error) {
	var hb ControllerHeartbeat
	err := s.db.WithContext(ctx).Where("controller_id = ?", controllerID).Order("id DESC").First(&hb).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &hb, nil
}

// History returns up to limit heartbeats of a controller, newest first.
func (s *HeartbeatService) History(ctx context.Context, controllerID uuid.UUID, limit int) ([]ControllerHeartbeat, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var rows []ControllerHeartbeat
	err := s.db.WithContext(ctx).Where("controller_id = ?", controllerID).Order("id DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

// PruneHeartbeats deletes heartbeats older than cutoff, keeping each
// controller's newest row so the fleet never turns "Never".
func (s *HeartbeatService) PruneHeartbeats(ctx context.Context, cutoff time.Time) (int64, error) {
	db := s.db.WithContext(ctx)
	q := db.Where("timestamp < ? AND id NOT IN (?)", cutoff.UTC(), s.latestIDs(db))
	res := q.Delete(&ControllerHeartbeat{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to prune heartbeats: %w", res.Error)
	}
	return res.RowsAffected, nil
}
