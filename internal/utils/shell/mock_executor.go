package shell

import (
	"fmt"
	"regexp"
	"sync"
)

// MockCommand maps a command pattern (a regular expression) to a canned
// result.
type MockCommand struct {
	Pattern string
	Output  string
	Error   error
}

// MockExecutor answers commands from a list of MockCommand and records every
// command it was asked to run.
type MockExecutor struct {
	commands []MockCommand

	mu    sync.Mutex
	Calls []string
}

func NewMockExecutor(commands []MockCommand) *MockExecutor {
	return &MockExecutor{commands: commands}
}

func (m *MockExecutor) lookup(cmdStr string) (string, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, cmdStr)
	m.mu.Unlock()

	for _, c := range m.commands {
		matched, err := regexp.MatchString(c.Pattern, cmdStr)
		if err != nil {
			return "", fmt.Errorf("invalid mock pattern %q: %w", c.Pattern, err)
		}
		if matched {
			return c.Output, c.Error
		}
	}
	return "", fmt.Errorf("no mock for command: %s", cmdStr)
}

func (m *MockExecutor) ExecCmd(cmdStr string, sudo bool, envVal []string) (string, error) {
	return m.lookup(cmdStr)
}

func (m *MockExecutor) ExecCmdSilent(cmdStr string, sudo bool, envVal []string) (string, error) {
	return m.lookup(cmdStr)
}

func (m *MockExecutor) ExecCmdWithInput(inputStr string, cmdStr string, sudo bool, envVal []string) (string, error) {
	return m.lookup(cmdStr)
}
