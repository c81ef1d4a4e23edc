package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPinger struct {
	name string
	err  error
}

func (s stubPinger) Name() string                   { return s.name }
func (s stubPinger) Ping(ctx context.Context) error { return s.err }

func TestCheckAll_ReportsOnlyFailures(t *testing.T) {
	failures := CheckAll(context.Background(), time.Second,
		stubPinger{name: "ok"},
		stubPinger{name: "broken", err: errors.New("refused")},
	)

	require.Len(t, failures, 1)
	assert.EqualError(t, failures["broken"], "refused")
}

func TestCheckAll_RealClients(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := &RedisClient{Client: redis.NewClient(&redis.Options{Addr: mr.Addr()})}
	defer rc.Close()

	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectPing()

	pc := &PostgresClient{DB: db}

	failures := CheckAll(context.Background(), time.Second, pc, rc)
	assert.Empty(t, failures)
	assert.NoError(t, mock.ExpectationsWereMet())

	mr.Close()
	failures = CheckAll(context.Background(), time.Second, rc)
	assert.Contains(t, failures, "redis")
}
