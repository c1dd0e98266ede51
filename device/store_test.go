package device

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/netpulse/errors"
	nptest "github.com/teranos/netpulse/internal/testing"
)

func TestStoreUpsertAndGet(t *testing.T) {
	store := NewStore(nptest.CreateTestDB(t))
	ctx := context.Background()

	d := &Device{ID: "r1", Label: "core-r1", Host: "10.0.0.1", Platform: "ios", TagID: "core"}
	require.NoError(t, store.Upsert(ctx, d))
	assert.Equal(t, DefaultPort, d.Port)

	got, err := store.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "core-r1", got.Label)
	assert.Equal(t, "10.0.0.1:22", got.Address())
	assert.Equal(t, "core", got.Target().TagID)
	assert.Empty(t, got.CredentialID)
	assert.False(t, got.CreatedAt.IsZero())

	d.Host = "10.0.0.2"
	d.ConfigCommand = "show run all"
	require.NoError(t, store.Upsert(ctx, d))
	got, err = store.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2", got.Host)
	assert.Equal(t, "show run all", got.RetrievalCommand())
}

func TestStoreListAndDelete(t *testing.T) {
	store := NewStore(nptest.CreateTestDB(t))
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, &Device{ID: "b", Label: "beta", Host: "h2"}))
	require.NoError(t, store.Upsert(ctx, &Device{ID: "a", Label: "alpha", Host: "h1"}))

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].Label)

	require.NoError(t, store.Delete(ctx, "a"))
	_, err = store.Get(ctx, "a")
	assert.True(t, errors.IsNotFoundError(err))
	assert.True(t, errors.IsNotFoundError(store.Delete(ctx, "a")))
}

func TestDeviceValidate(t *testing.T) {
	tests := []struct {
		name    string
		device  Device
		wantErr bool
	}{
		{"valid", Device{ID: "r1", Host: "h"}, false},
		{"missing id", Device{Host: "h"}, true},
		{"missing host", Device{ID: "r1"}, true},
		{"bad port", Device{ID: "r1", Host: "h", Port: 70000}, true},
		{"unknown platform", Device{ID: "r1", Host: "h", Platform: "toaster"}, true},
		{"unknown platform with command", Device{ID: "r1", Host: "h", Platform: "toaster", ConfigCommand: "cat cfg"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.device.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsConfigurationError(err))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestRetrievalCommandByPlatform(t *testing.T) {
	assert.Equal(t, "show running-config", (&Device{Platform: "IOS"}).RetrievalCommand())
	assert.Equal(t, "/export", (&Device{Platform: "routeros"}).RetrievalCommand())
	assert.Equal(t, "show configuration | display set | no-more", (&Device{Platform: "junos"}).RetrievalCommand())
	assert.Equal(t, "show running-config", (&Device{}).RetrievalCommand())
	assert.Contains(t, Platforms(), "eos")
}

func TestNormalizeOutput(t *testing.T) {
	assert.Equal(t, "hostname r1\ninterface Gi0/1\n", NormalizeOutput("hostname r1  \r\ninterface Gi0/1\r\n\r\n"))
	assert.Equal(t, "", NormalizeOutput("\r\n \n"))
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "10.0.0.9", (&Device{Host: "10.0.0.9"}).DisplayName())
	assert.Equal(t, "edge", (&Device{Label: "edge", Host: "10.0.0.9"}).DisplayName())
}
