package dbsession

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStats(t *testing.T) {
	m, factory, clock := newTestManager()
	ctx := context.Background()

	_, err := m.GetReadTransaction(ctx, sessS2)
	require.NoError(t, err)
	_, err = m.acquire(ctx, sessS1)
	require.NoError(t, err)
	require.NoError(t, m.release(ctx, sessS1))
	_, err = m.acquire(ctx, sessS3)
	require.NoError(t, err)
	factory.client(0).attachment(2).breakConn()

	st, err := m.Stats(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, st.Sessions)
	assert.Equal(t, 2, st.Locked)
	assert.Equal(t, 1, st.ReadTransactions)
	require.Len(t, st.Details, 3)

	assert.Equal(t, SessionInfo{
		ID:         sessS1,
		FullDBName: fakeTarget,
		State:      "active",
		Touched:    clock.Now(),
		CreatedAt:  clock.Now(),
	}, st.Details[0])
	assert.Equal(t, sessS2, st.Details[1].ID)
	assert.Equal(t, 1, st.Details[1].Lock)
	assert.True(t, st.Details[1].HasReadTx)
	assert.Equal(t, sessS3, st.Details[2].ID)
	assert.Equal(t, "absent", st.Details[2].State)
}

func TestStats_Empty(t *testing.T) {
	m, _, _ := newTestManager()

	st, err := m.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, st.Sessions)
	assert.NotNil(t, st.Details)

	data, err := json.Marshal(st)
	require.NoError(t, err)
	assert.JSONEq(t, `{"sessions":0,"locked":0,"read_transactions":0,"details":[]}`, string(data))
}
