package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/byosamah/volteria-sub000/internal/lifecycle"
	"github.com/byosamah/volteria-sub000/internal/logging"
)

// MasterDeviceService manages site_master_devices
type MasterDeviceService struct {
	db *gorm.DB
}

func NewMasterDeviceService(db *gorm.DB) *MasterDeviceService {
	return &MasterDeviceService{db: db}
}

// MasterDeviceInput carries the editable master device fields.
type MasterDeviceInput struct {
	DeviceType       string
	ControllerID     *uuid.UUID
	GatewayName      string
	ModbusProtocol   string
	ModbusHost       string
	ModbusPort       int
	ModbusSlaveID    int
	ModbusBaudRate   int
	CalculatedFields datatypes.JSON
	AlarmConfig      datatypes.JSON
	TemplateID       *uuid.UUID
}

func (in MasterDeviceInput) validate() error {
	switch in.DeviceType {
	case DeviceTypeController:
		if in.ControllerID == nil {
			return fmt.Errorf("controller_id is required for controller devices")
		}
	case DeviceTypeGateway:
		if in.GatewayName == "" {
			return fmt.Errorf("gateway_name is required for gateway devices")
		}
	default:
		return fmt.Errorf("device_type must be %q or %q", DeviceTypeController, DeviceTypeGateway)
	}
	switch in.ModbusProtocol {
	case "", "tcp", "rtu":
	default:
		return fmt.Errorf("modbus_protocol must be tcp or rtu")
	}
	return nil
}

// ValidationError wraps a bad master device request.
type ValidationError struct{ Err error }

func (e *ValidationError) Error() string { return e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

// List returns a site's master devices
func (s *MasterDeviceService) List(ctx context.Context, siteID uuid.UUID) ([]SiteMasterDevice, error) {
	var out []SiteMasterDevice
	err := s.db.WithContext(ctx).Where("site_id = ?", siteID).Order("device_type, created_at").Find(&out).Error
	return out, err
}

func (s *MasterDeviceService) Get(ctx context.Context, id uuid.UUID) (*SiteMasterDevice, error) {
	var d SiteMasterDevice
	if err := s.db.WithContext(ctx).First(&d, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

// Create adds a master device to a site. Assigning a claimed controller
// deploys it. A second controller device on the same site is rejected by
// the controller_site_id unique index.
func (s *MasterDeviceService) Create(ctx context.Context, siteID uuid.UUID, in MasterDeviceInput) (*SiteMasterDevice, error) {
	if err := in.validate(); err != nil {
		return nil, &ValidationError{Err: err}
	}
	if in.ModbusProtocol == "" {
		in.ModbusProtocol = "tcp"
	}

	device := &SiteMasterDevice{
		SiteID:           siteID,
		DeviceType:       in.DeviceType,
		GatewayName:      in.GatewayName,
		ModbusProtocol:   in.ModbusProtocol,
		ModbusHost:       in.ModbusHost,
		ModbusPort:       in.ModbusPort,
		ModbusSlaveID:    in.ModbusSlaveID,
		ModbusBaudRate:   in.ModbusBaudRate,
		CalculatedFields: in.CalculatedFields,
		AlarmConfig:      in.AlarmConfig,
		TemplateID:       in.TemplateID,
	}
	if in.DeviceType == DeviceTypeController {
		device.ControllerID = in.ControllerID
		device.ControllerSiteID = &siteID
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if device.ControllerID != nil {
			var c Controller
			if err := tx.First(&c, "id = ?", *device.ControllerID).Error; err != nil {
				return notFound(err)
			}
			if c.Status == lifecycle.Deployed {
				return ErrControllerAssigned
			}
			if c.Status != lifecycle.Claimed {
				return ErrControllerNotClaimed
			}
			if err := tx.Model(&Controller{}).Where("id = ?", c.ID).Update("status", lifecycle.Deployed).Error; err != nil {
				return err
			}
		}
		if err := tx.Create(device).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrSiteHasController
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.InfoWithComponent(logging.ComponentController, "Master device added", "site_id", siteID, "device_type", device.DeviceType)
	return device, nil
}

// Update edits transport, calculated field, alarm and template settings.
// The device type and bound controller never change; delete and re-add instead.
func (s *MasterDeviceService) Update(ctx context.Context, id uuid.UUID, in MasterDeviceInput) (*SiteMasterDevice, error) {
	device, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	in.DeviceType = device.DeviceType
	in.ControllerID = device.ControllerID
	if in.DeviceType == DeviceTypeGateway && in.GatewayName == "" {
		in.GatewayName = device.GatewayName
	}
	if err := in.validate(); err != nil {
		return nil, &ValidationError{Err: err}
	}

	updates := map[string]interface{}{
		"gateway_name":      in.GatewayName,
		"modbus_host":       in.ModbusHost,
		"modbus_port":       in.ModbusPort,
		"modbus_slave_id":   in.ModbusSlaveID,
		"modbus_baud_rate":  in.ModbusBaudRate,
		"calculated_fields": in.CalculatedFields,
		"alarm_config":      in.AlarmConfig,
		"template_id":       in.TemplateID,
	}
	if in.ModbusProtocol != "" {
		updates["modbus_protocol"] = in.ModbusProtocol
	}
	if err := s.db.WithContext(ctx).Model(&SiteMasterDevice{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to update master device: %w", err)
	}
	return s.Get(ctx, id)
}

// Delete removes a master device. A deployed controller returns to claimed.
func (s *MasterDeviceService) Delete(ctx context.Context, id uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var device SiteMasterDevice
		if err := tx.First(&device, "id = ?", id).Error; err != nil {
			return notFound(err)
		}
		if err := tx.Delete(&SiteMasterDevice{}, "id = ?", id).Error; err != nil {
			return err
		}
		if device.ControllerID == nil {
			return nil
		}
		err := tx.Model(&Controller{}).
			Where("id = ? AND status = ?", *device.ControllerID, lifecycle.Deployed).
			Update("status", lifecycle.Claimed).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return nil
	})
}
