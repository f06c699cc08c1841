package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func runDatabaseSuite(t *testing.T, db Database) {
	t.Helper()
	key := []byte("settlement/key")
	value := []byte("value")

	has, err := db.Has(key)
	require.NoError(t, err)
	require.False(t, has)
	_, err = db.Get(key)
	require.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, db.Put(key, value))
	has, err = db.Has(key)
	require.NoError(t, err)
	require.True(t, has)
	got, err := db.Get(key)
	require.NoError(t, err)
	require.Equal(t, value, got)

	require.NoError(t, db.Put(key, []byte("updated")))
	got, err = db.Get(key)
	require.NoError(t, err)
	require.Equal(t, []byte("updated"), got)

	require.NoError(t, db.Delete(key))
	_, err = db.Get(key)
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestMemDB(t *testing.T) {
	db := NewMemDB()
	defer db.Close()
	runDatabaseSuite(t, db)
}

func TestMemDBCopiesValues(t *testing.T) {
	db := NewMemDB()
	defer db.Close()
	value := []byte("original")
	require.NoError(t, db.Put([]byte("k"), value))
	value[0] = 'X'
	got, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("original"), got)
}

func TestLevelDB(t *testing.T) {
	db, err := NewLevelDB(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)
	defer db.Close()
	runDatabaseSuite(t, db)
}
