package supervisor

import (
	"github.com/jguan/llama-warden/pkg/infra/logger"
	"github.com/jguan/llama-warden/pkg/infra/procutil"
)

// InstallShutdownHooks registers cleanup for exits that bypass normal
// signal delivery: on Windows, closing the console window, logging off
// or shutting down. SIGINT/SIGTERM are deliberately not hooked here;
// the CLI owns those, cancels the command context, and tears down on
// its way out. Safe to call more than once; only the first call
// registers anything.
func (s *Supervisor) InstallShutdownHooks() {
	s.hooksOnce.Do(func() {
		procutil.OnConsoleClose(func() {
			logger.Info("console closing, cleaning up")
			s.Teardown()
		})
	})
}
