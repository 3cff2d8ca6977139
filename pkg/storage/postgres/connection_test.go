package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/invoicer/pkg/storage"
)

func TestParseReplicaURLs(t *testing.T) {
	assert.Nil(t, ParseReplicaURLs(""))
	assert.Equal(t,
		[]string{"postgres://r1/db", "postgres://r2/db"},
		ParseReplicaURLs(" postgres://r1/db , ,postgres://r2/db"))
}

func TestConnectionConfigFrom(t *testing.T) {
	cfg := storage.DefaultConfig()
	cfg.PostgresURL = "postgres://primary/invoicer"
	cfg.PostgresReplicaURLs = "postgres://replica/invoicer"

	cc := ConnectionConfigFrom(cfg)
	assert.Equal(t, "postgres", cc.DriverName)
	assert.Equal(t, "postgres://primary/invoicer", cc.PrimaryURL)
	assert.Equal(t, []string{"postgres://replica/invoicer"}, cc.ReplicaURLs)
	assert.Equal(t, 20, cc.MaxConns)
}

func TestReplicaPoolSize(t *testing.T) {
	assert.Equal(t, 2, replicaPoolSize(1))
	assert.Equal(t, 10, replicaPoolSize(20))
}

func TestNewConnectionManager_PrimaryOnly(t *testing.T) {
	_, mock, err := sqlmock.NewWithDSN("cm-primary-only", sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	mock.ExpectPing()

	cm, err := NewConnectionManager(ConnectionConfig{
		DriverName: "sqlmock",
		PrimaryURL: "cm-primary-only",
		MaxConns:   4,
	}, nil)
	require.NoError(t, err)

	assert.Same(t, cm.Primary(), cm.Replica(), "replica falls back to primary")

	mock.ExpectPing()
	assert.NoError(t, cm.HealthCheck(context.Background()))

	mock.ExpectClose()
	assert.NoError(t, cm.Close())
}

func TestNewConnectionManager_PrimaryPingFails(t *testing.T) {
	_, mock, err := sqlmock.NewWithDSN("cm-primary-down", sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	mock.ExpectClose()

	_, err = NewConnectionManager(ConnectionConfig{
		DriverName: "sqlmock",
		PrimaryURL: "cm-primary-down",
	}, nil)
	assert.ErrorContains(t, err, "connection refused")
}

func TestMigrate_UsesEmbeddedMigrations(t *testing.T) {
	original := gooseUpContext
	defer func() { gooseUpContext = original }()

	var gotDir string
	gooseUpContext = func(ctx context.Context, _ *sql.DB, dir string, _ ...goose.OptionsFunc) error {
		gotDir = dir
		return nil
	}

	require.NoError(t, Migrate(context.Background(), nil))
	assert.Equal(t, ".", gotDir)

	gooseUpContext = func(ctx context.Context, _ *sql.DB, dir string, _ ...goose.OptionsFunc) error {
		return errors.New("dirty database")
	}
	assert.ErrorContains(t, Migrate(context.Background(), nil), "dirty database")
}
