package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/execution-hub/bizrules/internal/config"
	"github.com/execution-hub/bizrules/internal/infrastructure/memory"
)

func TestNewWithMemoryStores(t *testing.T) {
	cfg := &config.Config{
		StoreBackend:   config.BackendMemory,
		TrackerBackend: config.BackendPostgres,
		SchedulerBatch: 10,
	}
	app, err := New(context.Background(), cfg, true, zerolog.Nop())
	require.NoError(t, err)
	defer app.Close()

	assert.Nil(t, app.Pool)
	assert.IsType(t, &memory.TrackerRepository{}, app.Stores.Trackers)
	assert.IsType(t, &memory.CheckQueue{}, app.Stores.Checks)
	assert.IsType(t, &memory.NotificationInbox{}, app.Stores.Inbox)
	require.NotNil(t, app.Approval)
	require.NotNil(t, app.SLA)
	require.NotNil(t, app.Report)

	res, err := app.SLA.ProcessDueChecks(context.Background(), time.Now().UTC(), cfg.SchedulerBatch)
	require.NoError(t, err)
	assert.Zero(t, res.Processed)
}

func TestCloseIsIdempotent(t *testing.T) {
	app, err := New(context.Background(), &config.Config{StoreBackend: config.BackendMemory}, false, zerolog.Nop())
	require.NoError(t, err)
	app.Close()
	app.Close()
}
