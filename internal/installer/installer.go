// Package installer hands a downloaded artifact over to the platform's
// package installer.
package installer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/italolelis/appstore_downloader/internal/logctx"
	"github.com/italolelis/appstore_downloader/internal/telemetry"
)

var (
	ErrUnsupportedPlatform = errors.New("install is not supported on this platform")
	ErrArtifactMissing     = errors.New("artifact does not exist")
)

// Installer launches the installation of a local artifact. It returns once
// the installer was started; the installation outcome is not reported.
type Installer interface {
	Install(ctx context.Context, path string) error
}

// CommandInstaller runs a configured command with the artifact path appended,
// e.g. "adb install -r".
type CommandInstaller struct {
	name      string
	args      []string
	telemetry *telemetry.Telemetry
}

// NewCommandInstaller parses command into a program and its arguments. An
// empty command yields an installer that always returns ErrUnsupportedPlatform.
func NewCommandInstaller(command string, tel *telemetry.Telemetry) *CommandInstaller {
	i := &CommandInstaller{telemetry: tel}

	if fields := strings.Fields(command); len(fields) > 0 {
		i.name = fields[0]
		i.args = fields[1:]
	}

	return i
}

func (i *CommandInstaller) Install(ctx context.Context, path string) error {
	return i.telemetry.InstrumentInstall(ctx, func(ctx context.Context) error {
		return i.start(ctx, path)
	})
}

func (i *CommandInstaller) start(ctx context.Context, path string) error {
	if i.name == "" {
		return ErrUnsupportedPlatform
	}

	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: %s", ErrArtifactMissing, path)
	}

	logger := logctx.LoggerFromContext(ctx).With("command", i.name, "path", path)

	args := append(append([]string{}, i.args...), path)

	// The installer outlives the request that triggered it.
	cmd := exec.Command(i.name, args...)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start installer: %w", err)
	}

	logger.InfoContext(ctx, "installer started", "pid", cmd.Process.Pid)

	go func() {
		if err := cmd.Wait(); err != nil {
			logger.Warn("installer exited with error", "err", err)

			return
		}

		logger.Info("installer finished")
	}()

	return nil
}
