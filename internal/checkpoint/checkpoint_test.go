package checkpoint

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStoreSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "window.db")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	idx, err := s.Load()
	require.NoError(t, err)
	require.Equal(t, uint64(0), idx)

	require.NoError(t, s.Save(42))

	idx, err = s.Load()
	require.NoError(t, err)
	require.Equal(t, uint64(42), idx)
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "window.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(7))
	require.NoError(t, s.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	idx, err := s2.Load()
	require.NoError(t, err)
	require.Equal(t, uint64(7), idx)
}
