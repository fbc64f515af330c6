// ABOUTME: Tests for audit log store operations
// ABOUTME: Covers Append and List with filtering for the audit_log table

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditStore_Append(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	entry := &AuditEntry{
		ActorUserID:  1,
		Action:       AuditTriggerAction,
		Collection:   "actors",
		CustomAction: "do-something",
		Outcome:      AuditOutcomeRequiresApproval,
		Detail:       map[string]any{"roleIdsAllowedToApprove": []int{1, 16}},
	}

	err := store.AppendAuditLog(ctx, entry)
	require.NoError(t, err)

	// Should have generated ID and timestamp
	assert.NotEmpty(t, entry.ID)
	assert.False(t, entry.Timestamp.IsZero())

	entries, err := store.ListAuditLog(ctx, AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, entry.ID, entries[0].ID)
	assert.Equal(t, AuditOutcomeRequiresApproval, entries[0].Outcome)
	assert.Equal(t, []any{float64(1), float64(16)}, entries[0].Detail["roleIdsAllowedToApprove"])
}

func TestAuditStore_List_NoFilter(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	// Append multiple entries
	for i, action := range []AuditAction{AuditTriggerAction, AuditApproveAction, AuditRequestActionParameters} {
		entry := &AuditEntry{
			ActorUserID:  1,
			Action:       action,
			Collection:   "actors",
			CustomAction: generateTestID("action", i),
			Outcome:      AuditOutcomeAllowed,
			Timestamp:    time.Now().UTC().Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, store.AppendAuditLog(ctx, entry))
	}

	entries, err := store.ListAuditLog(ctx, AuditFilter{})
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	// Should be newest first
	assert.Equal(t, AuditRequestActionParameters, entries[0].Action)
}

func TestAuditStore_List_SubSecondOrdering(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, offset := range []time.Duration{0, 900 * time.Millisecond, 100 * time.Millisecond} {
		require.NoError(t, store.AppendAuditLog(ctx, &AuditEntry{
			ActorUserID:  1,
			Action:       AuditTriggerAction,
			Collection:   "actors",
			CustomAction: generateTestID("action", i),
			Outcome:      AuditOutcomeAllowed,
			Timestamp:    base.Add(offset),
		}))
	}

	entries, err := store.ListAuditLog(ctx, AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "action-b", entries[0].CustomAction)
	assert.Equal(t, "action-c", entries[1].CustomAction)
	assert.Equal(t, "action-a", entries[2].CustomAction)
}

func TestAuditStore_List_Filters(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	baseTime := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	seed := []AuditEntry{
		{ActorUserID: 1, Action: AuditTriggerAction, Collection: "actors", Outcome: AuditOutcomeAllowed},
		{ActorUserID: 2, Action: AuditTriggerAction, Collection: "actors", Outcome: AuditOutcomeDenied},
		{ActorUserID: 1, Action: AuditApproveAction, Collection: "books", Outcome: AuditOutcomeDenied},
		{ActorUserID: 2, Action: AuditApproveAction, Collection: "books", Outcome: AuditOutcomeAllowed},
	}
	for i := range seed {
		e := seed[i]
		e.CustomAction = "do-something"
		e.Timestamp = baseTime.Add(time.Duration(i) * 10 * time.Minute)
		require.NoError(t, store.AppendAuditLog(ctx, &e))
	}

	actor := 1
	action := AuditApproveAction
	collection := "actors"
	outcome := AuditOutcomeDenied
	since := baseTime.Add(15 * time.Minute)
	until := baseTime.Add(25 * time.Minute)

	tests := []struct {
		name   string
		filter AuditFilter
		want   int
	}{
		{"by actor", AuditFilter{ActorUserID: &actor}, 2},
		{"by action", AuditFilter{Action: &action}, 2},
		{"by collection", AuditFilter{Collection: &collection}, 2},
		{"by outcome", AuditFilter{Outcome: &outcome}, 2},
		{"by actor and outcome", AuditFilter{ActorUserID: &actor, Outcome: &outcome}, 1},
		{"since", AuditFilter{Since: &since}, 2},
		{"between", AuditFilter{Since: &since, Until: &until}, 1},
		{"limit", AuditFilter{Limit: 3}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := store.ListAuditLog(ctx, tt.filter)
			require.NoError(t, err)
			assert.Len(t, entries, tt.want)
		})
	}
}

func TestAuditStore_List_Empty(t *testing.T) {
	store := setupTestStore(t)

	entries, err := store.ListAuditLog(context.Background(), AuditFilter{})
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestNormalizeAuditLimit(t *testing.T) {
	assert.Equal(t, 100, normalizeAuditLimit(0))
	assert.Equal(t, 100, normalizeAuditLimit(-5))
	assert.Equal(t, 50, normalizeAuditLimit(50))
	assert.Equal(t, 1000, normalizeAuditLimit(5000))
}
