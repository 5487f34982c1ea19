// Package pid guards against concurrent agent instances with a PID file.
package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"syscall"

	"codeberg.org/mutker/nvsentinel/internal/errors"
)

const pidFile = "nvsentinel.pid"

// Path returns the PID file location.
func Path() string {
	return filepath.Join(os.TempDir(), pidFile)
}

// Write claims the PID file for this process. It fails with
// errors.ErrAlreadyRunning when the recorded process is still alive; a
// stale file left by a dead process is overwritten.
func Write() error {
	errFactory := errors.New()
	path := Path()

	recorded, err := readRecordedPID(path)
	if err != nil {
		return err
	}

	if recorded > 0 && processAlive(recorded) {
		return errFactory.WithData(errors.ErrAlreadyRunning, struct {
			PID  int
			Path string
		}{
			PID:  recorded,
			Path: path,
		})
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o600); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

// Remove deletes the PID file. A missing file is not an error.
func Remove() error {
	if err := os.Remove(Path()); err != nil && !os.IsNotExist(err) {
		return errors.New().Wrap(errors.ErrInternal, err)
	}

	return nil
}

func readRecordedPID(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, nil
	}

	if err != nil {
		return 0, errors.New().Wrap(errors.ErrInternal, err)
	}

	recorded, err := strconv.Atoi(string(raw))
	if err != nil {
		// An unparseable file is treated as stale.
		return 0, nil
	}

	return recorded, nil
}

func processAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	return process.Signal(syscall.Signal(0)) == nil
}
