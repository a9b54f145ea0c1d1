package procs

import "os/exec"

// SetCmdFactory replaces the command factory so tests can spawn dummy
// processes.
func (m *Manager) SetCmdFactory(factory func(spec Spec) *exec.Cmd) {
	m.cmdFactory = factory
}
