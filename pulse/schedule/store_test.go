package schedule

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/netpulse/device"
	"github.com/teranos/netpulse/errors"
	nptest "github.com/teranos/netpulse/internal/testing"
)

func newTestStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()
	conn := nptest.CreateTestDB(t)
	require.NoError(t, device.NewStore(conn).Upsert(context.Background(), &device.Device{ID: "r1", Label: "r1", Host: "10.0.0.1"}))
	return NewStore(conn), conn
}

func dailyBackup(name string) *Definition {
	return &Definition{
		Name:       name,
		Recurrence: Recurrence{Kind: KindDaily, Time: "04:00"},
		JobKind:    "config_backup",
		DeviceID:   "r1",
		UserID:     "u1",
		Payload:    map[string]any{"reason": "nightly"},
		Enabled:    true,
	}
}

func TestCreateAndGetDefinition(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	now := at("2024-03-10 12:00")

	def := dailyBackup("nightly")
	require.NoError(t, store.CreateDefinition(ctx, def, now))
	require.NotEmpty(t, def.ID)
	require.NotNil(t, def.NextRunAt)
	assert.Equal(t, at("2024-03-11 04:00"), *def.NextRunAt)

	got, err := store.GetDefinition(ctx, def.ID)
	require.NoError(t, err)
	assert.Equal(t, "nightly", got.Name)
	assert.Equal(t, KindDaily, got.Kind)
	assert.Equal(t, "04:00", got.Time)
	assert.Equal(t, "r1", got.DeviceID)
	assert.Equal(t, "nightly", got.Payload["reason"])
	assert.True(t, got.Enabled)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, def.NextRunAt.Equal(*got.NextRunAt))
	assert.Nil(t, got.LastRunAt)

	_, err = store.GetDefinition(ctx, "missing")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestCreateDefinitionRejectsInvalid(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	bad := dailyBackup("bad")
	bad.Kind = KindWeekly
	err := store.CreateDefinition(ctx, bad, time.Now())
	assert.True(t, errors.Is(err, ErrInvalidSchedule))

	noKind := dailyBackup("nokind")
	noKind.JobKind = ""
	assert.True(t, errors.IsConfigurationError(store.CreateDefinition(ctx, noKind, time.Now())))
}

func TestListDueOrdersByNextRun(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	created := at("2024-03-10 00:00")

	early := dailyBackup("early")
	early.Time = "01:00"
	late := dailyBackup("late")
	late.Time = "03:00"
	future := dailyBackup("future")
	future.Time = "23:00"
	disabled := dailyBackup("disabled")
	disabled.Time = "00:30"
	disabled.Enabled = false

	for _, d := range []*Definition{late, early, future, disabled} {
		require.NoError(t, store.CreateDefinition(ctx, d, created))
	}

	due, err := store.ListDue(ctx, at("2024-03-10 05:00"), 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "early", due[0].Name)
	assert.Equal(t, "late", due[1].Name)

	limited, err := store.ListDue(ctx, at("2024-03-10 05:00"), 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	next, err := store.NextDue(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "early", next.Name)
}

func TestUpdateAfterDispatch(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	def := dailyBackup("nightly")
	require.NoError(t, store.CreateDefinition(ctx, def, at("2024-03-10 00:00")))

	ran := at("2024-03-10 04:00")
	next := at("2024-03-11 04:00")
	require.NoError(t, store.UpdateAfterDispatch(ctx, def.ID, &ran, &next))

	got, err := store.GetDefinition(ctx, def.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastRunAt)
	assert.True(t, got.LastRunAt.Equal(ran))
	assert.True(t, got.NextRunAt.Equal(next))

	// nil last run keeps the stored value
	require.NoError(t, store.UpdateAfterDispatch(ctx, def.ID, nil, nil))
	got, err = store.GetDefinition(ctx, def.ID)
	require.NoError(t, err)
	assert.True(t, got.LastRunAt.Equal(ran))
	assert.Nil(t, got.NextRunAt)

	assert.True(t, errors.IsNotFoundError(store.UpdateAfterDispatch(ctx, "missing", nil, nil)))
}

func TestSetEnabledRecomputes(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	def := dailyBackup("nightly")
	require.NoError(t, store.CreateDefinition(ctx, def, at("2024-03-10 00:00")))

	off, err := store.SetEnabled(ctx, def.ID, false, at("2024-03-12 00:00"))
	require.NoError(t, err)
	assert.False(t, off.Enabled)
	assert.Nil(t, off.NextRunAt)

	on, err := store.SetEnabled(ctx, def.ID, true, at("2024-03-20 06:00"))
	require.NoError(t, err)
	require.NotNil(t, on.NextRunAt)
	assert.Equal(t, at("2024-03-21 04:00"), *on.NextRunAt)

	got, err := store.GetDefinition(ctx, def.ID)
	require.NoError(t, err)
	assert.True(t, got.NextRunAt.Equal(at("2024-03-21 04:00")))
}

func TestDeviceDeleteCascadesSchedules(t *testing.T) {
	store, conn := newTestStore(t)
	ctx := context.Background()
	def := dailyBackup("nightly")
	require.NoError(t, store.CreateDefinition(ctx, def, time.Now()))

	require.NoError(t, device.NewStore(conn).Delete(ctx, "r1"))
	_, err := store.GetDefinition(ctx, def.ID)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestListDueQueryError(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectQuery("SELECT (.+) FROM schedules").WillReturnError(errors.New("disk I/O error"))

	_, err = NewStore(conn).ListDue(context.Background(), time.Now(), 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to query schedules")
	require.NoError(t, mock.ExpectationsWereMet())
}
