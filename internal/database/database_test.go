package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_CreatesDatabase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.db")

	db, err := New(path, nil)
	require.NoError(t, err)
	require.NotNil(t, db)
	defer db.Close()

	require.NoError(t, db.Ping(context.Background()))
}

func TestNew_SetsWALPragmas(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.db")

	db, err := New(path, nil)
	require.NoError(t, err)
	defer db.Close()

	var mode string
	require.NoError(t, db.Raw("PRAGMA journal_mode").Scan(&mode).Error)
	require.Equal(t, "wal", mode)
}

func TestNew_SingleConnection(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.db")

	db, err := New(path, nil)
	require.NoError(t, err)
	defer db.Close()

	sqlDB, err := db.DB.DB()
	require.NoError(t, err)
	require.Equal(t, 1, sqlDB.Stats().MaxOpenConnections)
}

func TestClose_IsSafe(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.db")

	db, err := New(path, nil)
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

func TestPing_FailsAfterClose(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.db")

	db, err := New(path, nil)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	require.Error(t, db.Ping(context.Background()))
}

func TestNew_ReopenExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.db")

	db1, err := New(path, nil)
	require.NoError(t, err)
	require.NoError(t, db1.Close())

	db2, err := New(path, nil)
	require.NoError(t, err)
	defer db2.Close()

	require.NoError(t, db2.Ping(context.Background()))
}

func TestNew_DefaultLoggerWhenNil(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.db")

	db, err := New(path, nil)
	require.NoError(t, err)
	defer db.Close()
	require.NotNil(t, db.logger)
}
