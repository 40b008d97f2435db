package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/parkslope/psp/internal/config"
	"github.com/parkslope/psp/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConnection(t *testing.T) {
	cfg := &config.Config{DatabaseURL: testutil.ConnectionString(t)}
	ctx := context.Background()

	pool, err := NewConnection(ctx, cfg)
	if err != nil {
		t.Fatalf("NewConnection() failed: %v", err)
	}
	defer CloseConnection(pool)

	stats := pool.Stat()
	if stats.MaxConns() != 25 {
		t.Errorf("Expected MaxConns to be 25, got %d", stats.MaxConns())
	}
}

func TestNewConnectionInvalidConfig(t *testing.T) {
	cfg := &config.Config{
		DBHost:     "invalid-host-that-does-not-exist",
		DBPort:     "5432",
		DBUsername: "invalid",
		DBPassword: "invalid",
		DBName:     "invalid",
		DBSSLMode:  "disable",
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewConnection(ctx, cfg)
	if err == nil {
		t.Fatal("Expected NewConnection() to fail with invalid config, but it succeeded")
	}
}

func TestCloseConnection(t *testing.T) {
	CloseConnection(nil)

	cfg := &config.Config{DatabaseURL: testutil.ConnectionString(t)}
	ctx := context.Background()

	pool, err := NewConnection(ctx, cfg)
	if err != nil {
		t.Fatalf("NewConnection() failed: %v", err)
	}

	CloseConnection(pool)

	err = pool.Ping(ctx)
	if err == nil {
		t.Fatal("Expected Ping() to fail after pool was closed")
	}
}

func TestWithTxRollsBack(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := WithTx(ctx, pool, "insert and fail", func(tx pgx.Tx) error {
		if _, err := InsertNewOnly(ctx, tx, testutil.NewMessages(1, 3)); err != nil {
			return err
		}
		return boom
	})

	var storageErr *StorageError
	require.True(t, errors.As(err, &storageErr))
	assert.Equal(t, "insert and fail", storageErr.Op)
	assert.ErrorIs(t, err, boom)

	existing, err := ExistingMessageIDs(ctx, pool, []int64{1, 2, 3})
	require.NoError(t, err)
	assert.Empty(t, existing)
}
