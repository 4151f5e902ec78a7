package keychain

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/ochairo/macrelease/internal/domain/entities"
	"github.com/ochairo/macrelease/internal/domain/interfaces/gateways"
	"github.com/ochairo/macrelease/internal/domain/services"
)

const testService = "com.example.widget.release"

func TestSourceReturnsStoredPair(t *testing.T) {
	keyring.MockInit()
	store := NewStore()
	require.NoError(t, Save(store, testService, &entities.Credential{Identity: "dev@example.com", Secret: "abcd-efgh", OrganizationID: "TEAM123456"}))

	cred, err := NewSource(store, testService).Lookup(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "dev@example.com", cred.Identity)
	assert.Equal(t, "abcd-efgh", cred.Secret)
	assert.Equal(t, "TEAM123456", cred.OrganizationID)
}

func TestSourceFallsThrough(t *testing.T) {
	tests := []struct {
		name  string
		setup func(s *Store)
	}{
		{name: "empty store", setup: func(*Store) {}},
		{name: "identity only", setup: func(s *Store) { _ = s.Set(testService, AccountIdentity, "dev@example.com") }},
		{name: "secret only", setup: func(s *Store) { _ = s.Set(testService, AccountSecret, "abcd") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keyring.MockInit()
			store := NewStore()
			tt.setup(store)

			_, err := NewSource(store, testService).Lookup(context.Background())
			assert.ErrorIs(t, err, services.ErrSourceEmpty)
		})
	}
}

func TestSourceStoreFailureStopsResolution(t *testing.T) {
	keyring.MockInitWithError(errors.New("keychain locked"))

	_, err := NewSource(NewStore(), testService).Lookup(context.Background())

	require.Error(t, err)
	assert.NotErrorIs(t, err, services.ErrSourceEmpty)
	assert.Contains(t, err.Error(), "keychain locked")
}

func TestStoreMapsNotFound(t *testing.T) {
	keyring.MockInit()

	_, err := NewStore().Get(testService, AccountSecret)
	assert.ErrorIs(t, err, gateways.ErrSecretNotFound)
	assert.NoError(t, NewStore().Delete(testService, AccountSecret))
}

func TestSaveClearsStaleOrganization(t *testing.T) {
	keyring.MockInit()
	store := NewStore()
	require.NoError(t, Save(store, testService, &entities.Credential{Identity: "a", Secret: "b", OrganizationID: "OLDTEAM"}))
	require.NoError(t, Save(store, testService, &entities.Credential{Identity: "a", Secret: "c"}))

	cred, err := NewSource(store, testService).Lookup(context.Background())
	require.NoError(t, err)
	assert.Empty(t, cred.OrganizationID)
	assert.Equal(t, "c", cred.Secret)
}

func TestSaveRejectsIncomplete(t *testing.T) {
	keyring.MockInit()
	assert.Error(t, Save(NewStore(), testService, &entities.Credential{Identity: "a"}))
}

func TestRemove(t *testing.T) {
	keyring.MockInit()
	store := NewStore()
	require.NoError(t, Save(store, testService, &entities.Credential{Identity: "a", Secret: "b"}))

	require.NoError(t, Remove(store, testService))

	_, err := NewSource(store, testService).Lookup(context.Background())
	assert.ErrorIs(t, err, services.ErrSourceEmpty)
}

func TestServiceName(t *testing.T) {
	assert.Equal(t, "com.example.widget.release", ServiceName("com.example.widget"))
}
