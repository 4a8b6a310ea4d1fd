//go:build !windows

package procutil

// KillGuard is a no-op on platforms without job objects; the process
// group and parent-death signal set at spawn time cover cleanup there.
type KillGuard struct{}

func NewKillGuard() *KillGuard { return &KillGuard{} }

func (g *KillGuard) Assign(h *Handle) error { return nil }

func (g *KillGuard) Close() error { return nil }

// OnConsoleClose is a no-op off Windows; SIGTERM/SIGINT hooks cover the
// equivalent lifecycle events.
func OnConsoleClose(fn func()) {}
