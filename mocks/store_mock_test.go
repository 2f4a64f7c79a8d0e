package mocks

import (
	"context"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"

	"github.com/duraflow/core/internal/history"
)

func TestMockStore_AppendRecordsExpectedCall(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	store := NewMockStore(ctrl)
	key := history.ExecutionKey{TenantID: "acme", ExecutionID: "exec-1"}
	events := []history.Event{{EventType: history.EventWorkflowStarted}}

	store.EXPECT().Append(gomock.Any(), key, events, int64(1)).Return(nil)

	err := store.Append(context.Background(), key, events, 1)
	require.NoError(t, err)
}

func TestMockStore_ReadReturnsConfiguredEvents(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	store := NewMockStore(ctrl)
	key := history.ExecutionKey{TenantID: "acme", ExecutionID: "exec-1"}
	want := []history.Event{{EventType: history.EventWorkflowStarted}, {EventType: history.EventWorkflowCompleted}}

	store.EXPECT().Read(gomock.Any(), key, int64(1), int64(0)).Return(want, nil)

	got, err := store.Read(context.Background(), key, 1, 0)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestMockStore_NextEventIDPropagatesError(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	store := NewMockStore(ctrl)
	key := history.ExecutionKey{TenantID: "acme", ExecutionID: "exec-1"}

	store.EXPECT().NextEventID(gomock.Any(), key).Return(int64(0), context.DeadlineExceeded)

	_, err := store.NextEventID(context.Background(), key)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
