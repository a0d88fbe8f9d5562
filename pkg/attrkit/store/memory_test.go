package store_test

import (
	"testing"
	"time"

	"github.com/attrkit/attrkit/pkg/attrkit/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_ItemRoundTrip(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()

	payload := []byte(`{"eventName":"level_complete"}`)
	require.NoError(t, st.AppendItem(store.Item{
		Sequence: 7, EventID: "evt-7", Payload: payload,
		NextAttemptAt: time.Now(), EnqueuedAt: time.Now(),
	}))

	// Mutating the caller's slice must not affect the stored copy.
	payload[0] = 'X'

	items, err := st.LoadItems()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, []byte(`{"eventName":"level_complete"}`), items[0].Payload)
	assert.Equal(t, 1, st.Len())
}

func TestMemoryStore_UpdateMissing(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()

	err := st.UpdateItem(42, 1, time.Now())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMemoryStore_State(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()

	require.NoError(t, st.SaveState(store.StateUserID, []byte("user-9")))
	data, err := st.LoadState(store.StateUserID)
	require.NoError(t, err)
	assert.Equal(t, []byte("user-9"), data)

	require.NoError(t, st.DeleteState(store.StateUserID))
	_, err = st.LoadState(store.StateUserID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMemoryStore_Closed(t *testing.T) {
	st := store.NewMemoryStore()
	require.NoError(t, st.Close())

	assert.ErrorIs(t, st.AppendItem(store.Item{Sequence: 1}), store.ErrStoreClosed)
	assert.ErrorIs(t, st.SaveState("k", nil), store.ErrStoreClosed)
	_, err := st.LoadState("k")
	assert.ErrorIs(t, err, store.ErrStoreClosed)
}
