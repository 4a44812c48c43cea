package dynlib

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingLibrary(t *testing.T) {
	_, err := Load("/no/such/library_for_dynlib_test.so")
	require.Error(t, err)
	require.Contains(t, err.Error(), "library_for_dynlib_test")
}

// TestLoadRealLibrary exercises Load/Lookup/Close against a real shared library.
// Set MINIORT_DYNLIB_TEST to the path of any loadable shared library (and
// MINIORT_DYNLIB_TEST_SYMBOL to one of its exported symbols) to enable it.
func TestLoadRealLibrary(t *testing.T) {
	path := os.Getenv("MINIORT_DYNLIB_TEST")
	if path == "" {
		t.Skip("MINIORT_DYNLIB_TEST not set, skipping dynamic loading test")
	}
	lib, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, path, lib.Path())

	if symbol := os.Getenv("MINIORT_DYNLIB_TEST_SYMBOL"); symbol != "" {
		addr, err := lib.Lookup(symbol)
		require.NoError(t, err)
		require.NotZero(t, addr)
	}
	_, err = lib.Lookup("miniort_no_such_symbol")
	require.Error(t, err)

	require.NoError(t, lib.Close())
	require.NoError(t, lib.Close())

	_, err = lib.Lookup("anything")
	require.Error(t, err)
}
