package reliability

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaoq/stockwatch/internal/database"
)

func TestSnapshotAndVerify(t *testing.T) {
	dir := t.TempDir()
	db, err := database.New(filepath.Join(dir, "live.db"))
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec("CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT)")
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO t (v) VALUES ('a'), ('b')")
	require.NoError(t, err)

	svc := NewBackupService(db, nil, dir, 7, zerolog.Nop())

	copyPath := filepath.Join(dir, "copy.db")
	require.NoError(t, svc.snapshotDatabase(copyPath))
	require.NoError(t, svc.verifyBackup(copyPath))

	// The copy is standalone, no WAL sidecar
	_, err = os.Stat(copyPath + "-wal")
	assert.True(t, os.IsNotExist(err))
}

func TestCreateArchiveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "payload.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello backup"), 0644))

	archivePath := filepath.Join(dir, "out.tar.gz")
	require.NoError(t, createArchive(archivePath, []string{src}))

	f, err := os.Open(archivePath)
	require.NoError(t, err)
	defer f.Close()

	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	hdr, err := tr.Next()
	require.NoError(t, err)
	assert.Equal(t, "payload.txt", hdr.Name)

	content, err := io.ReadAll(tr)
	require.NoError(t, err)
	assert.Equal(t, "hello backup", string(content))
}

func TestFileChecksum(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0644))

	sum, err := fileChecksum(path)
	require.NoError(t, err)
	assert.Equal(t, "sha256:ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", sum)
}
