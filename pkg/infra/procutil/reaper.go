package procutil

import (
	"os"
	"strings"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/jguan/llama-warden/pkg/infra/logger"
)

// ReapOrphans force-kills every process whose executable name contains
// nameFragment (case-insensitive), except this process itself. It is
// best-effort by contract: permission errors and already-exited
// processes are skipped silently, and the call never fails — it returns
// the number of processes it managed to kill.
//
// The supervised server can outlive a crashed host and keep its port
// bound and GPU memory resident; this sweep runs before every start and
// on every teardown path.
func ReapOrphans(nameFragment string) int {
	procs, err := process.Processes()
	if err != nil {
		logger.Warn("process enumeration failed", "error", err)
		return 0
	}

	fragment := strings.ToLower(nameFragment)
	self := int32(os.Getpid())
	killed := 0

	for _, p := range procs {
		if p.Pid == self {
			continue
		}
		name, err := p.Name()
		if err != nil || name == "" {
			continue
		}
		if !strings.Contains(strings.ToLower(name), fragment) {
			continue
		}
		if err := p.Kill(); err != nil {
			continue
		}
		logger.Info("killed orphaned server process", "pid", p.Pid, "name", name)
		killed++
	}

	return killed
}
