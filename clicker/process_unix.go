//go:build !windows

package clicker

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"go.uber.org/zap"
)

// setSysProcAttr puts the daemon in its own process group, so a force kill
// can take the whole tree down with one signal.
func setSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminate requests a graceful exit.
func terminate(cmd *exec.Cmd) error {
	return cmd.Process.Signal(syscall.SIGTERM)
}

// forceKill kills the daemon's process group, falling back to the process
// itself if the group signal fails.
func forceKill(cmd *exec.Cmd, log *zap.SugaredLogger) {
	pid := cmd.Process.Pid
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		log.Debugf("error killing process group %d: %s", pid, err)
		if err := cmd.Process.Kill(); err != nil {
			log.Debugf("error killing process %d: %s", pid, err)
		}
	}
}

// killDescendants forcibly terminates every descendant of pid, leaving pid
// itself alive so it can still be asked to exit gracefully.
func killDescendants(pid int, log *zap.SugaredLogger) {
	for _, child := range descendants(pid) {
		log.Debugw("killing descendant process", "PID", child)
		if err := syscall.Kill(child, syscall.SIGKILL); err != nil {
			log.Debugf("error killing descendant %d: %s", child, err)
		}
	}
}

// descendants returns the transitive children of pid, via /proc where
// available, otherwise pgrep.
func descendants(pid int) []int {
	childrenOf, err := procChildren()
	if err != nil {
		return pgrepDescendants(pid)
	}
	var out []int
	frontier := []int{pid}
	for len(frontier) > 0 {
		next := frontier[0]
		frontier = frontier[1:]
		for _, child := range childrenOf[next] {
			out = append(out, child)
			frontier = append(frontier, child)
		}
	}
	return out
}

// procChildren builds a parent->children map from /proc/<pid>/stat.
func procChildren() (map[int][]int, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, err
	}
	childrenOf := map[int][]int{}
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		stat, err := os.ReadFile(filepath.Join("/proc", e.Name(), "stat"))
		if err != nil {
			continue
		}
		// Field 4 is ppid; the comm field (2) may contain spaces but is
		// parenthesized, so split after the closing paren.
		s := string(stat)
		idx := strings.LastIndex(s, ")")
		if idx < 0 {
			continue
		}
		fields := strings.Fields(s[idx+1:])
		if len(fields) < 2 {
			continue
		}
		ppid, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		childrenOf[ppid] = append(childrenOf[ppid], pid)
	}
	return childrenOf, nil
}

func pgrepDescendants(pid int) []int {
	var out []int
	frontier := []int{pid}
	for len(frontier) > 0 {
		next := frontier[0]
		frontier = frontier[1:]
		b, err := exec.Command("pgrep", "-P", strconv.Itoa(next)).Output()
		if err != nil {
			continue
		}
		for _, line := range strings.Fields(string(b)) {
			child, err := strconv.Atoi(line)
			if err != nil {
				continue
			}
			out = append(out, child)
			frontier = append(frontier, child)
		}
	}
	return out
}
