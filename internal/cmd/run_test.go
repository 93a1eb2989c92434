// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package cmd

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mia-platform/tallysync/internal/server"
	fakeserver "github.com/mia-platform/tallysync/internal/server/fake"
)

func TestRunExecute(t *testing.T) {
	dsn := setupDatabase(t)
	t.Setenv("SYNC_TENANTS", "T")
	t.Setenv("SYNC_INTERVAL", "1h")
	querier, _ := testQuerier(t, 20)

	srv := fakeserver.NewFakeServer(t)
	depsChan := make(chan server.Dependencies, 1)
	opts := &runOptions{
		querier: querier,
		server: func(_ context.Context, deps server.Dependencies) (server.Server, error) {
			depsChan <- deps
			return srv, nil
		},
		shutdownTimeout: 5 * time.Second,
	}

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- opts.execute(ctx)
	}()

	deps := <-depsChan
	<-srv.StartedServer()

	require.Eventually(t, func() bool {
		return deps.Sync.Status().LastCompleted != nil
	}, 5*time.Second, 10*time.Millisecond)

	status := deps.Sync.Status()
	require.NotNil(t, status.LastReport)
	assert.True(t, status.LastReport.Success)
	assert.False(t, status.LastReport.Manual)
	assert.Len(t, status.LastReport.Entities, 3)
	require.NoError(t, deps.Readiness.Ping(t.Context()))

	cancel()
	require.NoError(t, <-errChan)
	<-srv.StoppedServer()

	record := lastSync(t, dsn, "T", "transactions")
	require.NotNil(t, record)
	assert.Equal(t, 20, record.LastRecordCount)
}

func TestRunInvalidConfig(t *testing.T) {
	setupDatabase(t)
	t.Setenv("BATCH_SIZE", "0")

	opts := (&runFlags{}).toOptions()
	err := opts.execute(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BATCH_SIZE must be greater than zero")
}
