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

func TestRestartAckClearsFlag(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	controllers := database.NewControllerService(db)
	commands := database.NewCommandService(db)

	c := register(t, controllers, "CMD-1")
	cmd, err := controllers.RequestRestart(ctx, c.ID, nil)
	require.NoError(t, err)

	got, err := controllers.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, got.PendingRestart)

	pending, err := commands.ClaimPending(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, cmd.ID, pending[0].ID)
	assert.Equal(t, database.CommandDelivered, pending[0].Status)

	again, err := commands.ClaimPending(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, again, "delivered commands are not handed out twice")

	acked, err := commands.Ack(ctx, c.ID, cmd.ID, true, "rebooting")
	require.NoError(t, err)
	assert.Equal(t, database.CommandRestart, acked.Type)

	got, err = controllers.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, got.PendingRestart)

	other := register(t, controllers, "CMD-2")
	_, err = commands.Ack(ctx, other.ID, cmd.ID, true, "")
	assert.ErrorIs(t, err, database.ErrNotFound, "agents can only ack their own commands")
}

func TestTriggerSiteSync(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	commands := database.NewCommandService(db)
	fx := dbtest.SeedSite(t, db, "acme")

	_, err := commands.TriggerSiteSync(ctx, fx.Site.ID, nil)
	assert.ErrorIs(t, err, database.ErrNoSiteController)

	c := register(t, database.NewControllerService(db), "SYNC-1")
	require.NoError(t, db.Create(&database.SiteMasterDevice{SiteID: fx.Site.ID, DeviceType: database.DeviceTypeController, ControllerID: &c.ID, ControllerSiteID: &fx.Site.ID}).Error)

	cmd, err := commands.TriggerSiteSync(ctx, fx.Site.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, database.CommandSyncConfig, cmd.Type)
	assert.Equal(t, c.ID, cmd.ControllerID)

	latest, err := commands.Latest(ctx, c.ID, database.CommandSyncConfig)
	require.NoError(t, err)
	assert.Equal(t, cmd.ID, latest.ID)
}

func TestExpireCommands(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	controllers := database.NewControllerService(db)
	commands := database.NewCommandService(db)

	c := register(t, controllers, "EXP-1")
	stale, err := controllers.RequestRestart(ctx, c.ID, nil)
	require.NoError(t, err)
	require.NoError(t, db.Model(stale).Update("created_at", time.Now().UTC().Add(-time.Hour)).Error)
	fresh, err := commands.Enqueue(ctx, c.ID, database.CommandSyncConfig, nil, nil, nil)
	require.NoError(t, err)

	n, err := commands.ExpireCommands(ctx, time.Now().UTC().Add(-10*time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	var reloaded database.ControllerCommand
	require.NoError(t, db.First(&reloaded, "id = ?", stale.ID).Error)
	assert.Equal(t, database.CommandExpired, reloaded.Status)
	var untouched database.ControllerCommand
	require.NoError(t, db.First(&untouched, "id = ?", fresh.ID).Error)
	assert.Equal(t, database.CommandPending, untouched.Status)

	got, err := controllers.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, got.PendingRestart)
}
