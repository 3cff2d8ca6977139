package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/invoicer/pkg/users"
)

func TestResetUsage(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	logger, hook := test.NewNullLogger()

	now := time.Date(2026, 6, 1, 0, 5, 0, 0, time.UTC)
	mock.ExpectExec("UPDATE users").
		WithArgs(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)).
		WillReturnResult(sqlmock.NewResult(0, 42))

	require.NoError(t, resetUsage(context.Background(), users.NewPostgresRepository(db), now, logger))
	assert.NoError(t, mock.ExpectationsWereMet())

	last := hook.LastEntry()
	require.NotNil(t, last)
	assert.Equal(t, logrus.InfoLevel, last.Level)
	assert.Equal(t, int64(42), last.Data["accounts"])
}

func TestResetUsage_Error(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	logger, _ := test.NewNullLogger()

	mock.ExpectExec("UPDATE users").WillReturnError(errors.New("connection reset"))

	err = resetUsage(context.Background(), users.NewPostgresRepository(db), time.Now(), logger)
	assert.ErrorContains(t, err, "connection reset")
}
