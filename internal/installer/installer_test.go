package installer

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeArtifact(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "app.apk")
	require.NoError(t, os.WriteFile(path, []byte("apk"), 0o600))

	return path
}

func TestCommandInstaller_NoCommand(t *testing.T) {
	err := NewCommandInstaller("  ", nil).Install(context.Background(), writeArtifact(t))
	assert.ErrorIs(t, err, ErrUnsupportedPlatform)
}

func TestCommandInstaller_MissingArtifact(t *testing.T) {
	err := NewCommandInstaller("true", nil).Install(context.Background(), filepath.Join(t.TempDir(), "missing.apk"))
	assert.ErrorIs(t, err, ErrArtifactMissing)
}

func TestCommandInstaller_ParsesArguments(t *testing.T) {
	i := NewCommandInstaller("adb install -r", nil)

	assert.Equal(t, "adb", i.name)
	assert.Equal(t, []string{"install", "-r"}, i.args)
}

func TestCommandInstaller_StartsCommand(t *testing.T) {
	if _, err := exec.LookPath("touch"); err != nil {
		t.Skip("touch not available")
	}

	artifact := writeArtifact(t)
	marker := filepath.Join(t.TempDir(), "installed")

	// touch receives the marker and then the artifact path.
	require.NoError(t, NewCommandInstaller("touch "+marker, nil).Install(context.Background(), artifact))

	assert.Eventually(t, func() bool {
		_, err := os.Stat(marker)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCommandInstaller_UnknownProgram(t *testing.T) {
	err := NewCommandInstaller("definitely-not-an-installer-binary", nil).Install(context.Background(), writeArtifact(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start installer")
}
