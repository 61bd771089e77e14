//go:build windows

package clicker

import (
	"os/exec"
	"strconv"

	"go.uber.org/zap"
)

func setSysProcAttr(cmd *exec.Cmd) {}

// terminate has no graceful signal on Windows; killing the tree is the only
// reliable teardown.
func terminate(cmd *exec.Cmd) error {
	return exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(cmd.Process.Pid)).Run()
}

func forceKill(cmd *exec.Cmd, log *zap.SugaredLogger) {
	if err := terminate(cmd); err != nil {
		log.Debugf("error killing process tree: %s", err)
		if err := cmd.Process.Kill(); err != nil {
			log.Debugf("error killing process: %s", err)
		}
	}
}

// killDescendants is a no-op on Windows; terminate already takes the whole
// tree down via taskkill /T.
func killDescendants(pid int, log *zap.SugaredLogger) {}
