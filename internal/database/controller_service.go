package database

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/byosamah/volteria-sub000/internal/lifecycle"
	"github.com/byosamah/volteria-sub000/internal/logging"
	"github.com/byosamah/volteria-sub000/internal/metrics"
)

// ControllerService handles controller rows
type ControllerService struct {
	db *gorm.DB
}

// NewControllerService creates a new controller service
func NewControllerService(db *gorm.DB) *ControllerService {
	return &ControllerService{db: db}
}

// RegisterInput is the hardware info collected on the first wizard step.
type RegisterInput struct {
	SerialNumber    string
	HardwareTypeID  string
	FirmwareVersion string
	Notes           string
}

// RegisterResult is the created or resumed controller.
type RegisterResult struct {
	Controller *Controller
	Resumed    bool
}

// Register creates a draft controller at wizard step 1, or resumes the
// existing draft with the same serial. The insert is attempted directly and a
// unique violation on serial_number decides between resume and rejection.
func (s *ControllerService) Register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	in.SerialNumber = strings.TrimSpace(in.SerialNumber)
	if in.SerialNumber == "" {
		return nil, ErrSerialRequired
	}
	if in.HardwareTypeID == "" {
		return nil, ErrHardwareTypeRequired
	}

	db := s.db.WithContext(ctx)

	var hwCount int64
	if err := db.Model(&HardwareType{}).Where("id = ?", in.HardwareTypeID).Count(&hwCount).Error; err != nil {
		return nil, fmt.Errorf("failed to look up hardware type: %w", err)
	}
	if hwCount == 0 {
		return nil, ErrUnknownHardwareType
	}

	passcode, err := generatePasscode()
	if err != nil {
		return nil, err
	}

	step := 1
	controller := &Controller{
		SerialNumber:    in.SerialNumber,
		HardwareTypeID:  in.HardwareTypeID,
		FirmwareVersion: in.FirmwareVersion,
		Notes:           in.Notes,
		Status:          lifecycle.Draft,
		WizardStep:      &step,
		Passcode:        passcode,
	}

	err = db.Create(controller).Error
	if err == nil {
		metrics.Registrations.WithLabelValues("created").Inc()
		logging.InfoWithComponent(logging.ComponentController, "Registered controller",
			"controller_id", controller.ID, "serial", controller.SerialNumber)
		return &RegisterResult{Controller: controller}, nil
	}
	if !isUniqueViolation(err) {
		return nil, fmt.Errorf("failed to create controller: %w", err)
	}

	var existing Controller
	lookupErr := db.Where("serial_number = ?", in.SerialNumber).First(&existing).Error
	if errors.Is(lookupErr, gorm.ErrRecordNotFound) {
		metrics.Registrations.WithLabelValues("conflict").Inc()
		return nil, ErrRegistrationConflict
	}
	if lookupErr != nil {
		return nil, fmt.Errorf("failed to load existing controller: %w", lookupErr)
	}

	if existing.WizardStep != nil {
		metrics.Registrations.WithLabelValues("resumed").Inc()
		logging.InfoWithComponent(logging.ComponentController, "Resuming registration",
			"controller_id", existing.ID, "step", *existing.WizardStep)
		return &RegisterResult{Controller: &existing, Resumed: true}, nil
	}

	metrics.Registrations.WithLabelValues("rejected").Inc()
	return nil, &AlreadyRegisteredError{SerialNumber: existing.SerialNumber, Status: existing.Status}
}

// Get returns a controller by id
func (s *ControllerService) Get(ctx context.Context, id uuid.UUID) (*Controller, error) {
	var c Controller
	if err := s.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// GetBySerial returns a controller by serial number
func (s *ControllerService) GetBySerial(ctx context.Context, serial string) (*Controller, error) {
	var c Controller
	if err := s.db.WithContext(ctx).Where("serial_number = ?", strings.TrimSpace(serial)).First(&c).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// ControllerFilter narrows List. Zero values match everything.
type ControllerFilter struct {
	Status       lifecycle.Status
	Query        string
	EnterpriseID *uuid.UUID
	Unassigned   bool // only controllers without an enterprise
}

// List returns controllers, newest first
func (s *ControllerService) List(ctx context.Context, f ControllerFilter) ([]Controller, error) {
	q := s.db.WithContext(ctx).Model(&Controller{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Query != "" {
		q = q.Where("LOWER(serial_number) LIKE ?", "%"+strings.ToLower(f.Query)+"%")
	}
	if f.EnterpriseID != nil {
		q = q.Where("enterprise_id = ?", *f.EnterpriseID)
	}
	if f.Unassigned {
		q = q.Where("enterprise_id IS NULL")
	}

	var controllers []Controller
	if err := q.Order("created_at DESC").Find(&controllers).Error; err != nil {
		return nil, err
	}
	return controllers, nil
}

// UpdateWizardStep records wizard progress on a draft controller.
func (s *ControllerService) UpdateWizardStep(ctx context.Context, id uuid.UUID, step int) error {
	if step < 1 || step > 7 {
		return ErrInvalidWizardStep
	}
	res := s.db.WithContext(ctx).Model(&Controller{}).
		Where("id = ? AND wizard_step IS NOT NULL", id).
		Update("wizard_step", step)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return s.wizardMiss(ctx, id)
	}
	return nil
}

// CompleteWizard ends provisioning: status becomes ready or failed and the
// wizard step is cleared.
func (s *ControllerService) CompleteWizard(ctx context.Context, id uuid.UUID, passed bool) (*Controller, error) {
	status := lifecycle.WizardOutcome(passed)
	res := s.db.WithContext(ctx).Model(&Controller{}).
		Where("id = ? AND wizard_step IS NOT NULL", id).
		Updates(map[string]interface{}{
			"status":      status,
			"wizard_step": nil,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, s.wizardMiss(ctx, id)
	}

	logging.InfoWithComponent(logging.ComponentWizard, "Provisioning finished", "controller_id", id, "status", string(status))
	return s.Get(ctx, id)
}

func (s *ControllerService) wizardMiss(ctx context.Context, id uuid.UUID) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return ErrWizardNotActive
}

// Transition applies a lifecycle move requested outside the wizard.
// Moving back to draft restarts the wizard at step 1; every other target
// clears the wizard step. Unclaiming drops the enterprise.
func (s *ControllerService) Transition(ctx context.Context, id uuid.UUID, to lifecycle.Status) (*Controller, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	from := c.Status
	if !lifecycle.CanTransition(from, to) || (from == lifecycle.Draft && to != lifecycle.Deactivated) {
		return nil, &TransitionError{From: from, To: to}
	}

	updates := map[string]interface{}{"status": to, "wizard_step": nil}
	switch {
	case to == lifecycle.Draft:
		updates["wizard_step"] = 1
	case from == lifecycle.Claimed && to == lifecycle.Ready:
		updates["enterprise_id"] = nil
	}

	if err := s.db.WithContext(ctx).Model(&Controller{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to update status: %w", err)
	}

	logging.InfoWithComponent(logging.ComponentController, "Controller status changed",
		"controller_id", id, "from", string(from), "to", string(to))
	return s.Get(ctx, id)
}

// ControllerUpdate holds editable fields. Nil fields are left unchanged.
type ControllerUpdate struct {
	SerialNumber    *string
	HardwareTypeID  *string
	FirmwareVersion *string
	Notes           *string
}

// Update edits descriptive fields. The serial number is immutable.
func (s *ControllerService) Update(ctx context.Context, id uuid.UUID, u ControllerUpdate) (*Controller, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.SerialNumber != nil && strings.TrimSpace(*u.SerialNumber) != c.SerialNumber {
		return nil, ErrSerialImmutable
	}

	updates := map[string]interface{}{}
	if u.HardwareTypeID != nil && *u.HardwareTypeID != c.HardwareTypeID {
		var n int64
		if err := s.db.WithContext(ctx).Model(&HardwareType{}).Where("id = ?", *u.HardwareTypeID).Count(&n).Error; err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, ErrUnknownHardwareType
		}
		updates["hardware_type_id"] = *u.HardwareTypeID
	}
	if u.FirmwareVersion != nil {
		updates["firmware_version"] = strings.TrimSpace(*u.FirmwareVersion)
	}
	if u.Notes != nil {
		updates["notes"] = *u.Notes
	}
	if len(updates) == 0 {
		return c, nil
	}

	if err := s.db.WithContext(ctx).Model(&Controller{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to update controller: %w", err)
	}
	return s.Get(ctx, id)
}

// Claim assigns a ready controller to an enterprise after checking the passcode.
func (s *ControllerService) Claim(ctx context.Context, serial, passcode string, enterpriseID uuid.UUID) (*Controller, error) {
	c, err := s.GetBySerial(ctx, serial)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidClaim
	}
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(c.Passcode), []byte(strings.TrimSpace(passcode))) != 1 {
		return nil, ErrInvalidClaim
	}
	if !lifecycle.CanTransition(c.Status, lifecycle.Claimed) {
		return nil, &TransitionError{From: c.Status, To: lifecycle.Claimed}
	}

	if err := s.db.WithContext(ctx).Model(&Controller{}).Where("id = ?", c.ID).Updates(map[string]interface{}{
		"status":        lifecycle.Claimed,
		"enterprise_id": enterpriseID,
	}).Error; err != nil {
		return nil, fmt.Errorf("failed to claim controller: %w", err)
	}
	return s.Get(ctx, c.ID)
}

// AuthenticateAgent identifies a field agent by serial and passcode.
func (s *ControllerService) AuthenticateAgent(ctx context.Context, serial, passcode string) (*Controller, error) {
	c, err := s.GetBySerial(ctx, serial)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if subtle.ConstantTimeCompare([]byte(c.Passcode), []byte(passcode)) != 1 {
		return nil, ErrInvalidCredentials
	}
	return c, nil
}

// UsageEntry is a site that references a controller through a master device.
type UsageEntry struct {
	MasterDeviceID uuid.UUID `json:"master_device_id"`
	SiteID         uuid.UUID `json:"site_id"`
	SiteName       string    `json:"site_name"`
	ProjectID      uuid.UUID `json:"project_id"`
	ProjectName    string    `json:"project_name"`
}

// Usage lists the sites and projects that use a controller.
func (s *ControllerService) Usage(ctx context.Context, id uuid.UUID) ([]UsageEntry, error) {
	var usage []UsageEntry
	err := s.db.WithContext(ctx).Table("site_master_devices AS d").
		Select("d.id AS master_device_id, s.id AS site_id, s.name AS site_name, p.id AS project_id, p.name AS project_name").
		Joins("JOIN sites AS s ON s.id = d.site_id").
		Joins("JOIN projects AS p ON p.id = s.project_id").
		Where("d.controller_id = ?", id).
		Order("p.name, s.name").
		Scan(&usage).Error
	if err != nil {
		return nil, fmt.Errorf("failed to look up controller usage: %w", err)
	}
	return usage, nil
}

// DeleteReport lists dependent deletes that failed. The root row is gone regardless.
type DeleteReport struct {
	DependentFailures []string `json:"dependent_failures,omitempty"`
}

// Delete removes a controller for good. Heartbeats, site assignments and
// queued commands go first; a failure there is logged and does not stop the
// controller row from being deleted.
func (s *ControllerService) Delete(ctx context.Context, id uuid.UUID) (*DeleteReport, error) {
	db := s.db.WithContext(ctx)
	report := &DeleteReport{}

	dependents := []struct {
		name  string
		model interface{}
	}{
		{"heartbeats", &ControllerHeartbeat{}},
		{"site_master_devices", &SiteMasterDevice{}},
		{"commands", &ControllerCommand{}},
	}
	for _, dep := range dependents {
		if err := db.Where("controller_id = ?", id).Delete(dep.model).Error; err != nil {
			logging.WarnWithComponent(logging.ComponentController, "Failed to delete controller dependents",
				"controller_id", id, "table", dep.name, "error", err)
			report.DependentFailures = append(report.DependentFailures, dep.name)
		}
	}

	res := db.Delete(&Controller{}, "id = ?", id)
	if res.Error != nil {
		return report, fmt.Errorf("failed to delete controller: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return report, ErrNotFound
	}

	logging.InfoWithComponent(logging.ComponentController, "Controller deleted", "controller_id", id)
	return report, nil
}

// SetupSSH allocates the controller's reverse tunnel port. Calling it again
// returns the existing port with already set.
func (s *ControllerService) SetupSSH(ctx context.Context, id uuid.UUID, rangeStart, rangeEnd int) (port int, already bool, err error) {
	db := s.db.WithContext(ctx)

	for attempt := 0; attempt < 5; attempt++ {
		c, err := s.Get(ctx, id)
		if err != nil {
			return 0, false, err
		}
		if c.SSHPort != nil {
			return *c.SSHPort, true, nil
		}

		var used []int
		if err := db.Model(&Controller{}).
			Where("ssh_port BETWEEN ? AND ?", rangeStart, rangeEnd).
			Order("ssh_port").
			Pluck("ssh_port", &used).Error; err != nil {
			return 0, false, err
		}

		candidate := lowestFree(used, rangeStart, rangeEnd)
		if candidate == 0 {
			return 0, false, ErrNoFreeSSHPort
		}

		res := db.Model(&Controller{}).Where("id = ? AND ssh_port IS NULL", id).Update("ssh_port", candidate)
		if isUniqueViolation(res.Error) {
			continue
		}
		if res.Error != nil {
			return 0, false, res.Error
		}
		if res.RowsAffected == 0 {
			continue
		}

		logging.InfoWithComponent(logging.ComponentController, "Allocated SSH tunnel port", "controller_id", id, "port", candidate)
		return candidate, false, nil
	}
	return 0, false, ErrNoFreeSSHPort
}

func lowestFree(sortedUsed []int, start, end int) int {
	next := start
	for _, p := range sortedUsed {
		if p > next {
			break
		}
		if p == next {
			next++
		}
	}
	if next > end {
		return 0
	}
	return next
}

// RequestRestart flags the controller and queues a restart command for its agent.
func (s *ControllerService) RequestRestart(ctx context.Context, id uuid.UUID, requestedBy *uuid.UUID) (*ControllerCommand, error) {
	var cmd *ControllerCommand
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Controller{}).Where("id = ?", id).Update("pending_restart", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		cmd = &ControllerCommand{
			ControllerID: id,
			Type:         CommandRestart,
			Status:       CommandPending,
			CreatedBy:    requestedBy,
		}
		return tx.Create(cmd).Error
	})
	if err != nil {
		return nil, err
	}
	return cmd, nil
}

// SaveTestResults stores the latest diagnostics run.
func (s *ControllerService) SaveTestResults(ctx context.Context, id uuid.UUID, results datatypes.JSON) error {
	res := s.db.WithContext(ctx).Model(&Controller{}).Where("id = ?", id).Update("test_results", results)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordAgentFirmware keeps firmware_version in line with what the agent reports.
func (s *ControllerService) RecordAgentFirmware(ctx context.Context, id uuid.UUID, version string) error {
	if version == "" {
		return nil
	}
	return s.db.WithContext(ctx).Model(&Controller{}).
		Where("id = ? AND firmware_version <> ?", id, version).
		Update("firmware_version", version).Error
}

const passcodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// generatePasscode returns an 8 character code without ambiguous glyphs.
func generatePasscode() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate passcode: %w", err)
	}
	out := make([]byte, len(buf))
	for i, b := range buf {
		out[i] = passcodeAlphabet[int(b)%len(passcodeAlphabet)]
	}
	return string(out), nil
}
