package supervisor

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/heyjoe127/bitcoin-pocket-node-sub000/pkg/consts"
	"github.com/spf13/afero"
	"golang.org/x/sys/unix"
)

// readPid returns the pid the daemon wrote into its data dir, or 0.
func readPid(fs afero.Fs, dataDir string) int {
	b, err := afero.ReadFile(fs, filepath.Join(dataDir, consts.DaemonPidFile))
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || pid <= 0 {
		return 0
	}
	return pid
}

// daemonLockPresent reports whether the daemon's own lock artifact exists,
// which means a previous run may still be alive.
func daemonLockPresent(fs afero.Fs, dataDir string) bool {
	_, err := fs.Stat(filepath.Join(dataDir, consts.DaemonLockFile))
	return err == nil
}

// pidAlive probes with signal 0. EPERM still means the pid exists.
func pidAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}

func killPid(pid int) error {
	return unix.Kill(pid, unix.SIGKILL)
}

// Personal.AI order the ending
