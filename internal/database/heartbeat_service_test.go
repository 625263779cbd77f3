package database_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byosamah/volteria-sub000/internal/database"
	"github.com/byosamah/volteria-sub000/internal/database/dbtest"
)

func TestLatestMapAndScope(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	controllers := database.NewControllerService(db)
	hb := database.NewHeartbeatService(db)
	fx := dbtest.SeedSite(t, db, "acme")

	a := register(t, controllers, "HB-A")
	b := register(t, controllers, "HB-B")
	silent := register(t, controllers, "HB-SILENT")
	require.NoError(t, db.Model(&database.Controller{}).Where("id = ?", a.ID).Update("enterprise_id", fx.Enterprise.ID).Error)

	base := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	rows := []database.ControllerHeartbeat{
		{ControllerID: a.ID, Timestamp: base},
		{ControllerID: a.ID, Timestamp: base.Add(30 * time.Second)},
		{ControllerID: b.ID, Timestamp: base.Add(time.Minute)},
	}
	require.NoError(t, db.Create(&rows).Error)

	latest, err := hb.LatestMap(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, latest, 2)
	assert.True(t, latest[a.ID].Equal(base.Add(30*time.Second)))
	assert.True(t, latest[b.ID].Equal(base.Add(time.Minute)))
	_, ok := latest[silent.ID]
	assert.False(t, ok)

	scoped, err := hb.LatestMap(ctx, &fx.Enterprise.ID)
	require.NoError(t, err)
	assert.Len(t, scoped, 1)
	assert.Contains(t, scoped, a.ID)

	one, err := hb.Latest(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, one.Timestamp.Equal(base.Add(30*time.Second)))

	_, err = hb.Latest(ctx, silent.ID)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestRecordUsesServerClock(t *testing.T) {
	db := dbtest.New(t)
	c := register(t, database.NewControllerService(db), "HB-CLOCK")

	before := time.Now().UTC().Add(-time.Second)
	got, err := database.NewHeartbeatService(db).Record(context.Background(), c.ID, database.HeartbeatInput{IPAddress: "10.0.0.7", UptimeSeconds: 42})
	require.NoError(t, err)
	assert.True(t, got.Timestamp.After(before))
	assert.Equal(t, "10.0.0.7", got.IPAddress)
}

func TestPruneKeepsNewestPerController(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	controllers := database.NewControllerService(db)
	hb := database.NewHeartbeatService(db)

	a := register(t, controllers, "PR-A")
	b := register(t, controllers, "PR-B")

	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []database.ControllerHeartbeat{
		{ControllerID: a.ID, Timestamp: old},
		{ControllerID: a.ID, Timestamp: old.Add(time.Hour)},
		{ControllerID: a.ID, Timestamp: old.AddDate(0, 0, 10)},
		{ControllerID: b.ID, Timestamp: old},
		{ControllerID: b.ID, Timestamp: old.Add(time.Hour)},
	}
	require.NoError(t, db.Create(&rows).Error)

	n, err := hb.PruneHeartbeats(ctx, old.AddDate(0, 0, 5))
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	latest, err := hb.LatestMap(ctx, nil)
	require.NoError(t, err)
	assert.True(t, latest[a.ID].Equal(old.AddDate(0, 0, 10)))
	assert.True(t, latest[b.ID].Equal(old.Add(time.Hour)), "an idle controller keeps its last heartbeat")
}
