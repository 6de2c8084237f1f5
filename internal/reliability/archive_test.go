package reliability

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSnapshot(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
	return dir
}

// readArchive extracts name -> content from a tar.gz.
func readArchive(t *testing.T, path string) map[string]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	gr, err := gzip.NewReader(f)
	require.NoError(t, err)
	tr := tar.NewReader(gr)

	out := make(map[string]string)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		data, err := io.ReadAll(tr)
		require.NoError(t, err)
		out[hdr.Name] = string(data)
	}
	return out
}

func TestBuildArchive_ContentsAndManifest(t *testing.T) {
	dir := writeSnapshot(t, map[string]string{
		"ledger.db":   "ledger-bytes",
		"universe.db": "universe-bytes",
	})
	archivePath := filepath.Join(t.TempDir(), "snapshot.tar.gz")

	digest, err := buildArchive(dir, archivePath)
	require.NoError(t, err)
	require.Len(t, digest, 64)

	contents := readArchive(t, archivePath)
	assert.Equal(t, "ledger-bytes", contents["ledger.db"])
	assert.Equal(t, "universe-bytes", contents["universe.db"])

	manifest, ok := contents["checksums.txt"]
	require.True(t, ok, "archive must carry a checksum manifest")

	// Each manifest line is "<sha256>  <name>" and matches the file bytes.
	for _, line := range strings.Split(strings.TrimSpace(manifest), "\n") {
		parts := strings.Fields(line)
		require.Len(t, parts, 2)
		sum := sha256.Sum256([]byte(contents[parts[1]]))
		assert.Equal(t, fmt.Sprintf("%x", sum), parts[0], "checksum mismatch for %s", parts[1])
	}
}

func TestBuildArchive_DigestMatchesArchiveBytes(t *testing.T) {
	dir := writeSnapshot(t, map[string]string{"config.db": "config-bytes"})
	archivePath := filepath.Join(t.TempDir(), "snapshot.tar.gz")

	digest, err := buildArchive(dir, archivePath)
	require.NoError(t, err)

	data, err := os.ReadFile(archivePath)
	require.NoError(t, err)
	sum := sha256.Sum256(data)
	assert.Equal(t, fmt.Sprintf("%x", sum), digest)
}

func TestFileSHA256(t *testing.T) {
	dir := writeSnapshot(t, map[string]string{"cache.db": "hello"})

	digest, err := fileSHA256(filepath.Join(dir, "cache.db"))
	require.NoError(t, err)

	sum := sha256.Sum256([]byte("hello"))
	assert.Equal(t, fmt.Sprintf("%x", sum), digest)
}

func TestR2Config_Enabled(t *testing.T) {
	full := R2Config{AccountID: "a", AccessKeyID: "k", SecretAccessKey: "s", Bucket: "b"}
	assert.True(t, full.Enabled())

	assert.False(t, R2Config{}.Enabled())
	assert.False(t, R2Config{AccountID: "a", AccessKeyID: "k", Bucket: "b"}.Enabled())
}
