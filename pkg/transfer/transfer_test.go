package transfer_test

import (
	"archive/zip"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	pkgerrors "github.com/absmach/fedlet/pkg/errors"
	"github.com/absmach/fedlet/pkg/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonotonic(t *testing.T) {
	var got []float64
	fn := transfer.Monotonic(func(f float64) { got = append(got, f) })

	for _, f := range []float64{-1, 0.2, 0.1, 0.5, 0.5, 2, 0.9} {
		fn(f)
	}

	assert.Equal(t, []float64{0, 0.2, 0.5, 0.5, 1}, got)
}

func TestReaderReportsFractions(t *testing.T) {
	var got []float64
	r := transfer.NewReader(bytes.NewReader(make([]byte, 100)), 100, func(f float64) { got = append(got, f) })

	buf := make([]byte, 40)
	for {
		_, err := r.Read(buf)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	r.Done()

	assert.Equal(t, []float64{0.4, 0.8, 1, 1}, got)
}

func TestArchiveExtractRoundTrip(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "bundle.tiotask"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "bundle.tiotask", "task.json"), []byte(`{"id":"t"}`), 0o644))

	archive := filepath.Join(t.TempDir(), "bundle.zip")
	require.NoError(t, transfer.Archive(src, archive))

	dest := filepath.Join(t.TempDir(), "out")
	require.NoError(t, transfer.Extract(archive, dest))

	data, err := os.ReadFile(filepath.Join(dest, "bundle.tiotask", "task.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"t"}`, string(data))
}

func TestExtractRejectsCorruptArchive(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "corrupt.zip")
	require.NoError(t, os.WriteFile(archive, []byte("not a zip"), 0o644))

	err := transfer.Extract(archive, t.TempDir())
	require.Error(t, err)
	assert.Equal(t, pkgerrors.KindBundle, pkgerrors.KindOf(err))
}

func TestExtractRejectsPathTraversal(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "evil.zip")
	f, err := os.Create(archive)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("../escape.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	dest := t.TempDir()
	err = transfer.Extract(archive, dest)
	require.Error(t, err)
	assert.NoFileExists(t, filepath.Join(filepath.Dir(dest), "escape.txt"))
}
