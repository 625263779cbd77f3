package database

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/byosamah/volteria-sub000/internal/lifecycle"
)

// User represents a console account
type User struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Username     string     `gorm:"uniqueIndex;not null" json:"username"`
	Email        string     `gorm:"uniqueIndex;not null" json:"email"`
	Password     string     `gorm:"not null" json:"-"` // Never return password in JSON
	Role         Role       `gorm:"size:32;not null;default:viewer" json:"role"`
	EnterpriseID *uuid.UUID `gorm:"type:uuid;index" json:"enterprise_id,omitempty"`
	IsActive     bool       `gorm:"default:true" json:"is_active"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	LastLogin *time.Time `json:"last_login,omitempty"`

	Sessions []UserSession `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// IsAdmin reports whether the user can see and manage every enterprise.
func (u *User) IsAdmin() bool {
	return u.Role.AtLeast(RoleAdmin)
}

// CanAccessEnterprise reports whether the user may act on rows of enterprise id.
// Admins see everything; everyone else only their own enterprise.
func (u *User) CanAccessEnterprise(id *uuid.UUID) bool {
	if u.IsAdmin() {
		return true
	}
	return id != nil && u.EnterpriseID != nil && *id == *u.EnterpriseID
}

// UserSession represents a user's login session
type UserSession struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	TokenID   string    `gorm:"size:64;not null;uniqueIndex" json:"-"`
	ExpiresAt time.Time `gorm:"not null" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	UserAgent string    `gorm:"type:text" json:"user_agent,omitempty"`
	IPAddress string    `gorm:"size:45" json:"ip_address,omitempty"`
}

func (s *UserSession) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// LoginAttempt records logins and step-up password checks
type LoginAttempt struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	IPAddress   string    `gorm:"size:45;not null;index" json:"ip_address"`
	Username    string    `gorm:"index" json:"username,omitempty"`
	Purpose     string    `gorm:"size:32;not null;default:login" json:"purpose"`
	Success     bool      `gorm:"default:false" json:"success"`
	AttemptedAt time.Time `gorm:"index" json:"attempted_at"`
	UserAgent   string    `gorm:"type:text" json:"user_agent,omitempty"`
}

func (l *LoginAttempt) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.AttemptedAt.IsZero() {
		l.AttemptedAt = time.Now().UTC()
	}
	return nil
}

type Enterprise struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name      string    `gorm:"uniqueIndex;not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func (e *Enterprise) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

type Project struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	EnterpriseID uuid.UUID `gorm:"type:uuid;not null;index" json:"enterprise_id"`
	Name         string    `gorm:"not null" json:"name"`
	CreatedAt    time.Time `json:"created_at"`

	Enterprise Enterprise `gorm:"foreignKey:EnterpriseID;constraint:OnDelete:CASCADE" json:"-"`
}

func (p *Project) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

type Site struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ProjectID uuid.UUID `gorm:"type:uuid;not null;index" json:"project_id"`
	Name      string    `gorm:"not null" json:"name"`
	Location  string    `json:"location,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	Project Project `gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE" json:"-"`
}

func (s *Site) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// HardwareType is a supported controller board, keyed by a short slug.
type HardwareType struct {
	ID           string `gorm:"size:64;primaryKey" json:"id"`
	Name         string `gorm:"not null" json:"name"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Description  string `gorm:"type:text" json:"description,omitempty"`
}

// Controller is a provisioned field device.
// WizardStep is non-nil only while the provisioning wizard is in progress.
type Controller struct {
	ID              uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	SerialNumber    string           `gorm:"size:128;not null;uniqueIndex" json:"serial_number"`
	HardwareTypeID  string           `gorm:"size:64;not null;index" json:"hardware_type_id"`
	FirmwareVersion string           `gorm:"size:64" json:"firmware_version,omitempty"`
	Notes           string           `gorm:"type:text" json:"notes,omitempty"`
	Status          lifecycle.Status `gorm:"size:20;not null;default:draft;index" json:"status"`
	WizardStep      *int             `json:"wizard_step"`
	Passcode        string           `gorm:"size:32;not null" json:"-"`
	SSHPort         *int             `gorm:"uniqueIndex" json:"ssh_port,omitempty"`
	PendingRestart  bool             `gorm:"default:false" json:"pending_restart"`
	TestResults     datatypes.JSON   `json:"test_results,omitempty"`
	EnterpriseID    *uuid.UUID       `gorm:"type:uuid;index" json:"enterprise_id,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

func (c *Controller) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// ControllerHeartbeat is one liveness report. The table is append-only and
// deliberately carries no foreign key so controller deletes never depend on it.
type ControllerHeartbeat struct {
	ID              uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	ControllerID    uuid.UUID `gorm:"type:uuid;not null;index:idx_heartbeat_controller_ts,priority:1" json:"controller_id"`
	Timestamp       time.Time `gorm:"not null;index:idx_heartbeat_controller_ts,priority:2" json:"timestamp"`
	FirmwareVersion string    `gorm:"size:64" json:"firmware_version,omitempty"`
	IPAddress       string    `gorm:"size:45" json:"ip_address,omitempty"`
	UptimeSeconds   int64     `json:"uptime_seconds,omitempty"`
}

// Master device types.
const (
	DeviceTypeController = "controller"
	DeviceTypeGateway    = "gateway"
)

// SiteMasterDevice binds a site to a controller or a gateway. ControllerSiteID
// is set to SiteID only for controller devices; its unique index allows one
// controller per site.
type SiteMasterDevice struct {
	ID               uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	SiteID           uuid.UUID      `gorm:"type:uuid;not null;index" json:"site_id"`
	DeviceType       string         `gorm:"size:20;not null" json:"device_type"`
	ControllerID     *uuid.UUID     `gorm:"type:uuid;index" json:"controller_id,omitempty"`
	ControllerSiteID *uuid.UUID     `gorm:"type:uuid;uniqueIndex" json:"-"`
	GatewayName      string         `json:"gateway_name,omitempty"`
	ModbusProtocol   string         `gorm:"size:8;default:tcp" json:"modbus_protocol"`
	ModbusHost       string         `json:"modbus_host,omitempty"`
	ModbusPort       int            `json:"modbus_port,omitempty"`
	ModbusSlaveID    int            `json:"modbus_slave_id,omitempty"`
	ModbusBaudRate   int            `json:"modbus_baud_rate,omitempty"`
	CalculatedFields datatypes.JSON `json:"calculated_fields,omitempty"`
	AlarmConfig      datatypes.JSON `json:"alarm_config,omitempty"`
	TemplateID       *uuid.UUID     `gorm:"type:uuid;index" json:"template_id,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`

	Site Site `gorm:"foreignKey:SiteID;constraint:OnDelete:CASCADE" json:"-"`
}

func (d *SiteMasterDevice) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

// Template scopes.
const (
	ScopePublic = "public"
	ScopeCustom = "custom"
)

// ControllerTemplate is a reusable bundle of registers, calculated fields and alarms.
type ControllerTemplate struct {
	ID               uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Name             string         `gorm:"not null" json:"name"`
	Description      string         `gorm:"type:text" json:"description,omitempty"`
	Scope            string         `gorm:"size:16;not null;default:public;index" json:"scope"`
	EnterpriseID     *uuid.UUID     `gorm:"type:uuid;index" json:"enterprise_id,omitempty"`
	HardwareTypeID   string         `gorm:"size:64" json:"hardware_type_id,omitempty"`
	Registers        datatypes.JSON `json:"registers,omitempty"`
	CalculatedFields datatypes.JSON `json:"calculated_fields,omitempty"`
	Alarms           datatypes.JSON `json:"alarms,omitempty"`
	CreatedBy        *uuid.UUID     `gorm:"type:uuid" json:"created_by,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

func (t *ControllerTemplate) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// CalculatedFieldDefinition is a derived reading a site can enable.
type CalculatedFieldDefinition struct {
	ID          string `gorm:"size:64;primaryKey" json:"id"`
	Name        string `gorm:"not null" json:"name"`
	Description string `gorm:"type:text" json:"description,omitempty"`
	Unit        string `gorm:"size:16" json:"unit,omitempty"`
	Formula     string `gorm:"type:text" json:"formula,omitempty"`
	Category    string `gorm:"size:32;index" json:"category,omitempty"`
}

// Command types and states.
const (
	CommandRestart    = "restart"
	CommandSyncConfig = "sync_config"

	CommandPending   = "pending"
	CommandDelivered = "delivered"
	CommandSucceeded = "succeeded"
	CommandFailed    = "failed"
	CommandExpired   = "expired"
)

// ControllerCommand is queued work for the field agent.
type ControllerCommand struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ControllerID uuid.UUID      `gorm:"type:uuid;not null;index" json:"controller_id"`
	SiteID       *uuid.UUID     `gorm:"type:uuid;index" json:"site_id,omitempty"`
	Type         string         `gorm:"size:32;not null" json:"type"`
	Status       string         `gorm:"size:16;not null;default:pending;index" json:"status"`
	Payload      datatypes.JSON `json:"payload,omitempty"`
	Message      string         `gorm:"type:text" json:"message,omitempty"`
	CreatedBy    *uuid.UUID     `gorm:"type:uuid" json:"created_by,omitempty"`
	CreatedAt    time.Time      `gorm:"index" json:"created_at"`
	DeliveredAt  *time.Time     `json:"delivered_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
}

func (c *ControllerCommand) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// GetAllModels returns all models for auto-migration
func GetAllModels() []interface{} {
	return []interface{}{
		&User{},
		&UserSession{},
		&LoginAttempt{},
		&Enterprise{},
		&Project{},
		&Site{},
		&HardwareType{},
		&Controller{},
		&ControllerHeartbeat{},
		&SiteMasterDevice{},
		&ControllerTemplate{},
		&CalculatedFieldDefinition{},
		&ControllerCommand{},
	}
}
