package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/byosamah/volteria-sub000/internal/database"
	"github.com/byosamah/volteria-sub000/internal/logging"
)

// respondError maps service errors onto status codes. Unknown errors are
// logged and reported with fallback.
func respondError(c *gin.Context, err error, fallback string) {
	var already *database.AlreadyRegisteredError
	var verr *database.ValidationError

	switch {
	case errors.As(err, &already):
		c.JSON(http.StatusConflict, gin.H{"error": already.Error(), "status": already.Status})
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
	case errors.Is(err, database.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	case errors.Is(err, database.ErrSerialRequired),
		errors.Is(err, database.ErrHardwareTypeRequired),
		errors.Is(err, database.ErrUnknownHardwareType),
		errors.Is(err, database.ErrSerialImmutable),
		errors.Is(err, database.ErrInvalidWizardStep),
		errors.Is(err, database.ErrInvalidTemplate),
		errors.Is(err, database.ErrNameRequired),
		errors.Is(err, database.ErrInvalidClaim):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, database.ErrRegistrationConflict),
		errors.Is(err, database.ErrSiteHasController),
		errors.Is(err, database.ErrControllerAssigned),
		errors.Is(err, database.ErrControllerNotClaimed),
		errors.Is(err, database.ErrEnterpriseExists),
		errors.Is(err, database.ErrUserExists),
		errors.Is(err, database.ErrInvalidTransition),
		errors.Is(err, database.ErrWizardNotActive),
		errors.Is(err, database.ErrNoSiteController):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, database.ErrNoFreeSSHPort):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		logging.Error(fallback, "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}
