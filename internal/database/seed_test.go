package database_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/byosamah/volteria-sub000/internal/database"
	"github.com/byosamah/volteria-sub000/internal/database/dbtest"
)

// traceRecorder keeps every error gorm traces.
type traceRecorder struct {
	mu   sync.Mutex
	errs []error
}

func (r *traceRecorder) LogMode(logger.LogLevel) logger.Interface { return r }
func (r *traceRecorder) Info(context.Context, string, ...interface{}) {}
func (r *traceRecorder) Warn(context.Context, string, ...interface{}) {}
func (r *traceRecorder) Error(context.Context, string, ...interface{}) {}

func (r *traceRecorder) Trace(_ context.Context, _ time.Time, _ func() (string, int64), err error) {
	if err == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func TestSeedReferenceData(t *testing.T) {
	db := dbtest.New(t)

	var ids []string
	require.NoError(t, db.Model(&database.HardwareType{}).Order("id").Pluck("id", &ids).Error)
	assert.Equal(t, []string{"cm4-industrial", "rpi4", "rpi5"}, ids)

	var fields int64
	require.NoError(t, db.Model(&database.CalculatedFieldDefinition{}).Count(&fields).Error)
	assert.NotZero(t, fields)

	// Reseeding restores a missing row and leaves the rest alone.
	require.NoError(t, db.Where("id = ?", "rpi4").Delete(&database.HardwareType{}).Error)
	rec := &traceRecorder{}
	require.NoError(t, database.SeedReferenceData(db.Session(&gorm.Session{Logger: rec})))
	require.NoError(t, database.SeedReferenceData(db))

	var hw int64
	require.NoError(t, db.Model(&database.HardwareType{}).Count(&hw).Error)
	assert.EqualValues(t, 3, hw)
	var after int64
	require.NoError(t, db.Model(&database.CalculatedFieldDefinition{}).Count(&after).Error)
	assert.Equal(t, fields, after)

	for _, err := range rec.errs {
		assert.False(t, errors.Is(err, gorm.ErrRecordNotFound), "seeding traced %v", err)
	}
}
