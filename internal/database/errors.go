package database

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/byosamah/volteria-sub000/internal/lifecycle"
)

var (
	ErrNotFound             = errors.New("record not found")
	ErrSerialRequired       = errors.New("serial number is required")
	ErrHardwareTypeRequired = errors.New("hardware type is required")
	ErrUnknownHardwareType  = errors.New("unknown hardware type")
	ErrRegistrationConflict = errors.New("a controller with this serial number already exists, refresh and retry")
	ErrInvalidTransition    = errors.New("status change not allowed")
	ErrWizardNotActive      = errors.New("controller is not in the provisioning wizard")
	ErrInvalidWizardStep    = errors.New("wizard step must be between 1 and 7")
	ErrSerialImmutable      = errors.New("serial number cannot be changed")
	ErrSiteHasController    = errors.New("site already has a controller master device")
	ErrControllerAssigned   = errors.New("controller is already assigned to a site")
	ErrControllerNotClaimed = errors.New("controller must be claimed before it can be assigned to a site")
	ErrInvalidClaim         = errors.New("serial number or passcode is incorrect")
	ErrNoFreeSSHPort        = errors.New("no free SSH tunnel port in the configured range")
	ErrNoSiteController     = errors.New("site has no controller master device")
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrAccountDisabled      = errors.New("account disabled")
	ErrUserExists           = errors.New("user with this username or email already exists")
	ErrInvalidTemplate      = errors.New("invalid template")
	ErrNameRequired         = errors.New("name is required")
	ErrEnterpriseExists     = errors.New("an enterprise with this name already exists")
)

// AlreadyRegisteredError rejects a registration whose serial belongs to a
// controller that already finished provisioning.
type AlreadyRegisteredError struct {
	SerialNumber string
	Status       lifecycle.Status
}

func (e *AlreadyRegisteredError) Error() string {
	return fmt.Sprintf("controller %s is already registered (status: %s)", e.SerialNumber, e.Status)
}

// TransitionError names the rejected move.
type TransitionError struct {
	From, To lifecycle.Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot change status from %s to %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// isUniqueViolation recognises duplicate key errors from either driver.
// gorm translates them when TranslateError is on; the string match covers
// connections opened without it.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "sqlstate 23505")
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
