package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CommandService manages the agent command queue
type CommandService struct {
	db *gorm.DB
}

// NewCommandService creates a new command service
func NewCommandService(db *gorm.DB) *CommandService {
	return &CommandService{db: db}
}

// Enqueue adds a pending command for a controller.
func (s *CommandService) Enqueue(ctx context.Context, controllerID uuid.UUID, cmdType string, siteID *uuid.UUID, payload datatypes.JSON, createdBy *uuid.UUID) (*ControllerCommand, error) {
	cmd := &ControllerCommand{
		ControllerID: controllerID,
		SiteID:       siteID,
		Type:         cmdType,
		Status:       CommandPending,
		Payload:      payload,
		CreatedBy:    createdBy,
	}
	if err := s.db.WithContext(ctx).Create(cmd).Error; err != nil {
		return nil, fmt.Errorf("failed to enqueue %s command: %w", cmdType, err)
	}
	return cmd, nil
}

// TriggerSiteSync queues a config sync for the controller bound to siteID.
func (s *CommandService) TriggerSiteSync(ctx context.Context, siteID uuid.UUID, createdBy *uuid.UUID) (*ControllerCommand, error) {
	var device SiteMasterDevice
	err := s.db.WithContext(ctx).
		Where("site_id = ? AND device_type = ? AND controller_id IS NOT NULL", siteID, DeviceTypeController).
		First(&device).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoSiteController
		}
		return nil, err
	}
	return s.Enqueue(ctx, *device.ControllerID, CommandSyncConfig, &siteID, nil, createdBy)
}

// ClaimPending returns a controller's pending commands, oldest first, and
// marks them delivered so the next poll does not repeat them.
func (s *CommandService) ClaimPending(ctx context.Context, controllerID uuid.UUID) ([]ControllerCommand, error) {
	var cmds []ControllerCommand
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("controller_id = ? AND status = ?", controllerID, CommandPending).
			Order("created_at").Find(&cmds).Error; err != nil {
			return err
		}
		if len(cmds) == 0 {
			return nil
		}
		ids := make([]uuid.UUID, len(cmds))
		for i := range cmds {
			ids[i] = cmds[i].ID
		}
		now := time.Now().UTC()
		if err := tx.Model(&ControllerCommand{}).Where("id IN ?", ids).Updates(map[string]interface{}{
			"status":       CommandDelivered,
			"delivered_at": now,
		}).Error; err != nil {
			return err
		}
		for i := range cmds {
			cmds[i].Status = CommandDelivered
			cmds[i].DeliveredAt = &now
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load pending commands: %w", err)
	}
	return cmds, nil
}

// Ack records the agent's result. Acknowledging a restart clears the
// controller's pending_restart flag.
func (s *CommandService) Ack(ctx context.Context, controllerID, commandID uuid.UUID, success bool, message string) (*ControllerCommand, error) {
	var cmd ControllerCommand
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&cmd, "id = ? AND controller_id = ?", commandID, controllerID).Error; err != nil {
			return notFound(err)
		}
		status := CommandFailed
		if success {
			status = CommandSucceeded
		}
		now := time.Now().UTC()
		if err := tx.Model(&cmd).Updates(map[string]interface{}{
			"status":       status,
			"message":      message,
			"completed_at": now,
		}).Error; err != nil {
			return err
		}
		if cmd.Type == CommandRestart {
			return tx.Model(&Controller{}).Where("id = ?", controllerID).Update("pending_restart", false).Error
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &cmd, nil
}

// Latest returns the newest command of cmdType for a controller.
func (s *CommandService) Latest(ctx context.Context, controllerID uuid.UUID, cmdType string) (*ControllerCommand, error) {
	var cmd ControllerCommand
	err := s.db.WithContext(ctx).Where("controller_id = ? AND type = ?", controllerID, cmdType).
		Order("created_at DESC").First(&cmd).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &cmd, nil
}

// ExpireCommands marks undelivered and unacknowledged commands created before
// cutoff as expired. Expired restarts clear pending_restart.
func (s *CommandService) ExpireCommands(ctx context.Context, cutoff time.Time) (int64, error) {
	var expired int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stale := tx.Model(&ControllerCommand{}).
			Where("status IN ? AND created_at < ?", []string{CommandPending, CommandDelivered}, cutoff.UTC())

		var restartControllers []uuid.UUID
		if err := stale.Session(&gorm.Session{}).Where("type = ?", CommandRestart).
			Distinct().Pluck("controller_id", &restartControllers).Error; err != nil {
			return err
		}

		res := stale.Session(&gorm.Session{}).Updates(map[string]interface{}{
			"status":       CommandExpired,
			"completed_at": time.Now().UTC(),
		})
		if res.Error != nil {
			return res.Error
		}
		expired = res.RowsAffected

		if len(restartControllers) > 0 {
			return tx.Model(&Controller{}).Where("id IN ?", restartControllers).Update("pending_restart", false).Error
		}
		return nil
	})
	return expired, err
}
