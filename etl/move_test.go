package etl

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMoveToDir_EmptyDirErrors(t *testing.T) {
	_, err := MoveToDir("x", " ", testNow)
	require.Error(t, err)
}

func TestMoveToDir_CreatesDir(t *testing.T) {
	tmp := t.TempDir()
	src := writeFile(t, tmp, "court_availability_20250731.csv", "payload")
	dir := filepath.Join(tmp, "error", "availability")

	dst, err := MoveToDir(src, dir, testNow)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "court_availability_20250731.csv"), dst)
	assert.NoFileExists(t, src)
	assert.FileExists(t, dst)
}

func TestMoveToDir_AvoidsNameCollision(t *testing.T) {
	tmp := t.TempDir()
	dir := filepath.Join(tmp, "dst")
	writeFile(t, dir, "a.csv", "existing")
	src := writeFile(t, filepath.Join(tmp, "src"), "a.csv", "payload")

	dst, err := MoveToDir(src, dir, testNow)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "a.20250731T090000.000000000.csv"), dst)
	assert.NoFileExists(t, src)

	b, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "payload\n", string(b))

	b, err = os.ReadFile(filepath.Join(dir, "a.csv"))
	require.NoError(t, err)
	assert.Equal(t, "existing\n", string(b))
}

func TestCopyFileRefusesToOverwrite(t *testing.T) {
	tmp := t.TempDir()
	src := writeFile(t, tmp, "src.csv", "payload")
	dst := writeFile(t, tmp, "dst.csv", "existing")

	require.Error(t, copyFile(src, dst))
	b, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "existing\n", string(b))
}
