package credential

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/netpulse/errors"
	nptest "github.com/teranos/netpulse/internal/testing"
)

func seedTag(t *testing.T, store *SQLStore, tag string, priorities map[string]int) {
	t.Helper()
	ctx := context.Background()
	for _, id := range []string{"c-low", "c-mid", "c-high"} {
		p, ok := priorities[id]
		if !ok {
			continue
		}
		require.NoError(t, store.CreateCredential(ctx, &Credential{ID: id, Name: id, Username: "admin", Secret: "pw-" + id}))
		require.NoError(t, store.PutBinding(ctx, &Binding{CredentialID: id, TagID: tag, Priority: p}))
	}
}

func TestResolveSingleCredential(t *testing.T) {
	store := NewSQLStore(nptest.CreateTestDB(t), nil)
	ctx := context.Background()
	require.NoError(t, store.CreateCredential(ctx, &Credential{ID: "c1", Name: "core", Username: "netops", Secret: "s3cr3t"}))

	candidates, err := NewResolver(store, nil).ResolveCandidates(ctx, Target{CredentialID: "c1"})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "c1", candidates[0].CredentialID())
	assert.Equal(t, "", candidates[0].TagID())
	assert.Equal(t, "s3cr3t", candidates[0].Credential.Secret)
}

func TestResolveMissingCredentialIsConfigurationError(t *testing.T) {
	store := NewSQLStore(nptest.CreateTestDB(t), nil)
	_, err := NewResolver(store, nil).ResolveCandidates(context.Background(), Target{CredentialID: "ghost"})
	require.Error(t, err)
	assert.True(t, errors.IsConfigurationError(err))
	assert.True(t, errors.IsNotFoundError(err))
}

func TestResolveEmptyTarget(t *testing.T) {
	_, err := NewResolver(NewSQLStore(nptest.CreateTestDB(t), nil), nil).ResolveCandidates(context.Background(), Target{})
	require.ErrorIs(t, err, ErrNoTarget)
	assert.True(t, errors.IsConfigurationError(err))
}

func TestResolveTagWithoutBindings(t *testing.T) {
	_, err := NewResolver(NewSQLStore(nptest.CreateTestDB(t), nil), nil).ResolveCandidates(context.Background(), Target{TagID: "edge"})
	require.Error(t, err)
	assert.True(t, errors.IsConfigurationError(err))
}

func TestResolveTagPriorityOrder(t *testing.T) {
	store := NewSQLStore(nptest.CreateTestDB(t), nil)
	seedTag(t, store, "core", map[string]int{"c-low": 10, "c-mid": 50, "c-high": 100})

	candidates, err := NewResolver(store, nil).ResolveCandidates(context.Background(), Target{TagID: "core"})
	require.NoError(t, err)
	require.Len(t, candidates, 3)

	var priorities []int
	for _, c := range candidates {
		priorities = append(priorities, c.Priority())
		assert.Equal(t, "core", c.TagID())
	}
	assert.Equal(t, []int{100, 50, 10}, priorities)
}

func TestResolveTagTieBrokenByLastSuccess(t *testing.T) {
	store := NewSQLStore(nptest.CreateTestDB(t), nil)
	seedTag(t, store, "edge", map[string]int{"c-low": 5, "c-mid": 5, "c-high": 5})
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.RecordAttempt(ctx, Attempt{CredentialID: "c-mid", TagID: "edge", Success: true, At: base}))
	require.NoError(t, store.RecordAttempt(ctx, Attempt{CredentialID: "c-high", TagID: "edge", Success: true, At: base.Add(time.Hour)}))

	candidates, err := NewResolver(store, nil).ResolveCandidates(ctx, Target{TagID: "edge"})
	require.NoError(t, err)

	var ids []string
	for _, c := range candidates {
		ids = append(ids, c.CredentialID())
	}
	// most recent success first, never-succeeded last
	assert.Equal(t, []string{"c-high", "c-mid", "c-low"}, ids)
}

func TestOrderCandidatesIsStable(t *testing.T) {
	mk := func(id string, prio int) Candidate {
		return Candidate{Credential: &Credential{ID: id}, Binding: &Binding{CredentialID: id, Priority: prio}}
	}
	candidates := []Candidate{mk("a", 1), mk("b", 1), mk("c", 2), mk("d", 1)}
	OrderCandidates(candidates)

	var ids []string
	for _, c := range candidates {
		ids = append(ids, c.CredentialID())
	}
	assert.Equal(t, []string{"c", "a", "b", "d"}, ids)
}

func TestRecordSuccessAndFailure(t *testing.T) {
	store := NewSQLStore(nptest.CreateTestDB(t), nil)
	seedTag(t, store, "core", map[string]int{"c-low": 10, "c-high": 100})
	ctx := context.Background()
	r := NewResolver(store, nil)

	candidates, err := r.ResolveCandidates(ctx, Target{TagID: "core"})
	require.NoError(t, err)

	at := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, r.RecordFailure(ctx, candidates[0], at))
	require.NoError(t, r.RecordSuccess(ctx, candidates[1], at.Add(time.Second)))

	// in-memory view updated
	assert.Equal(t, int64(1), candidates[0].Credential.FailureCount)
	require.NotNil(t, candidates[0].Binding.LastFailureAt)
	assert.Nil(t, candidates[0].Binding.LastSuccessAt)

	high, err := store.GetCredential(ctx, "c-high")
	require.NoError(t, err)
	assert.Equal(t, int64(0), high.SuccessCount)
	assert.Equal(t, int64(1), high.FailureCount)

	low, err := store.GetCredential(ctx, "c-low")
	require.NoError(t, err)
	assert.Equal(t, int64(1), low.SuccessCount)

	bindings, err := store.ListBindings(ctx, "core")
	require.NoError(t, err)
	byID := map[string]Binding{}
	for _, b := range bindings {
		byID[b.Binding.CredentialID] = b.Binding
	}
	assert.Equal(t, int64(1), byID["c-high"].FailureCount)
	require.NotNil(t, byID["c-high"].LastFailureAt)
	assert.True(t, at.Equal(*byID["c-high"].LastFailureAt))
	assert.Equal(t, int64(1), byID["c-low"].SuccessCount)
	require.NotNil(t, byID["c-low"].LastSuccessAt)
	require.NotNil(t, byID["c-low"].LastUsedAt)
}

func TestRecordUnknownCredential(t *testing.T) {
	r := NewResolver(NewSQLStore(nptest.CreateTestDB(t), nil), nil)
	err := r.RecordFailure(context.Background(), Candidate{Credential: &Credential{ID: "ghost"}}, time.Now())
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))

	assert.Error(t, r.RecordSuccess(context.Background(), Candidate{}, time.Now()))
}
