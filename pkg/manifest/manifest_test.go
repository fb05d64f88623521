package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aristath/fishbro/pkg/canon"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestVerify_HappyPath(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.json", `{"a":1}`)
	writeFile(t, dir, "b.json", `{"b":2}`)

	files, digest, err := HashDir(dir, "manifest.json")
	require.NoError(t, err)

	body := map[string]any{"files_sha256": files, "files_digest": digest}
	stamped, err := canon.Stamp(body, "manifest_sha256")
	require.NoError(t, err)

	err = Verify(dir, files, digest, stamped, "manifest_sha256", "manifest.json")
	assert.NoError(t, err)
}

func TestVerify_DetectsExtraFileInDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.json", `{"a":1}`)
	files, digest, err := HashDir(dir, "manifest.json")
	require.NoError(t, err)

	writeFile(t, dir, "sneaky.json", `{"x":1}`)

	err = Verify(dir, files, digest, map[string]any{}, "", "manifest.json")
	require.Error(t, err)
	var td *TamperDetected
	assert.ErrorAs(t, err, &td)
}

func TestVerify_DetectsMissingFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.json", `{"a":1}`)
	writeFile(t, dir, "b.json", `{"b":2}`)
	files, digest, err := HashDir(dir, "manifest.json")
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(dir, "b.json")))

	err = Verify(dir, files, digest, map[string]any{}, "", "manifest.json")
	require.Error(t, err)
}

func TestVerify_DetectsShaMismatch(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.json", `{"a":1}`)
	files, digest, err := HashDir(dir, "manifest.json")
	require.NoError(t, err)

	writeFile(t, dir, "a.json", `{"a":2}`) // tamper after hashing

	err = Verify(dir, files, digest, map[string]any{}, "", "manifest.json")
	require.Error(t, err)
}

func TestVerify_DetectsSelfHashTamper(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.json", `{"a":1}`)
	files, digest, err := HashDir(dir, "manifest.json")
	require.NoError(t, err)

	body := map[string]any{"files_sha256": files, "files_digest": digest, "note": "x"}
	stamped, err := canon.Stamp(body, "manifest_sha256")
	require.NoError(t, err)
	stamped["note"] = "tampered"

	err = Verify(dir, files, digest, stamped, "manifest_sha256", "manifest.json")
	require.Error(t, err)
}
