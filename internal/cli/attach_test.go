package cli

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFile(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "out.bin")

	n, err := writeFile(dst, strings.NewReader("receipt"))
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "receipt", string(data))
}

func TestWriteFile_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := writeFile(filepath.Join(dir, "missing", "out.bin"), strings.NewReader("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create ")

	boom := errors.New("boom")
	_, err = writeFile(filepath.Join(dir, "out.bin"), iotest.ErrReader(boom))
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "write ")
}
