package shell

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/atlas-os/atlas-disk/internal/utils/logger"
)

var log = logger.Logger()

type Executor interface {
	ExecCmd(cmdStr string, sudo bool, envVal []string) (string, error)
	ExecCmdSilent(cmdStr string, sudo bool, envVal []string) (string, error)
	ExecCmdWithInput(inputStr string, cmdStr string, sudo bool, envVal []string) (string, error)
}

type DefaultExecutor struct{}

var Default Executor = &DefaultExecutor{}

// isWindows selects PowerShell instead of bash.
var isWindows = runtime.GOOS == "windows"

// command wraps a full command line in the platform shell.
func command(fullCmdStr string) *exec.Cmd {
	if isWindows {
		return exec.Command("powershell", "-NoProfile", "-NonInteractive", "-Command", fullCmdStr)
	}
	return exec.Command("bash", "-c", fullCmdStr)
}

// IsCommandExist checks if a command exists on the host
func IsCommandExist(cmd string) (bool, error) {
	cmdStr := "command -v " + cmd
	if isWindows {
		cmdStr = "Get-Command " + cmd
	}
	output, err := Default.ExecCmdSilent(cmdStr, false, nil)
	if err != nil {
		output = strings.TrimSpace(output)
		if len(output) == 0 || isWindows {
			return false, nil
		}
		return false, fmt.Errorf("failed to execute command %s: output %s, err %w", cmdStr, output, err)
	}
	return true, nil
}

// GetFullCmdStr prepares a command string with necessary prefixes
func GetFullCmdStr(cmdStr string, sudo bool, envVal []string) string {
	envValStr := ""
	for _, env := range envVal {
		envValStr += env + " "
	}

	if sudo && !isWindows {
		log.Debugf("Exec: [sudo " + cmdStr + "]")
		return "sudo " + envValStr + cmdStr
	}
	log.Debugf("Exec: [" + cmdStr + "]")
	return envValStr + cmdStr
}

// ExecCmd executes a command and returns its output
func (d *DefaultExecutor) ExecCmd(cmdStr string, sudo bool, envVal []string) (string, error) {
	fullCmdStr := GetFullCmdStr(cmdStr, sudo, envVal)

	output, err := command(fullCmdStr).CombinedOutput()
	outputStr := string(output)

	if err != nil {
		if outputStr != "" {
			return outputStr, fmt.Errorf("failed to exec %s: output %s, err %w", fullCmdStr, outputStr, err)
		}
		return outputStr, fmt.Errorf("failed to exec %s: %w", fullCmdStr, err)
	}
	if outputStr != "" {
		log.Debugf(outputStr)
	}
	return outputStr, nil
}

// ExecCmdSilent executes a command without logging its output
func (d *DefaultExecutor) ExecCmdSilent(cmdStr string, sudo bool, envVal []string) (string, error) {
	output, err := command(GetFullCmdStr(cmdStr, sudo, envVal)).CombinedOutput()
	return string(output), err
}

// ExecCmdWithInput executes a command with input string
func (d *DefaultExecutor) ExecCmdWithInput(inputStr string, cmdStr string, sudo bool, envVal []string) (string, error) {
	fullCmdStr := GetFullCmdStr(cmdStr, sudo, envVal)

	cmd := command(fullCmdStr)
	cmd.Stdin = strings.NewReader(inputStr)

	output, err := cmd.CombinedOutput()
	outputStr := string(output)

	if err != nil {
		if outputStr != "" {
			log.Infof(outputStr)
		}
		return outputStr, fmt.Errorf("failed to exec %s with input: %w", fullCmdStr, err)
	}
	if outputStr != "" {
		log.Debugf(outputStr)
	}
	return outputStr, nil
}

// Convenience functions for backward compatibility
func ExecCmd(cmdStr string, sudo bool, envVal []string) (string, error) {
	return Default.ExecCmd(cmdStr, sudo, envVal)
}

func ExecCmdSilent(cmdStr string, sudo bool, envVal []string) (string, error) {
	return Default.ExecCmdSilent(cmdStr, sudo, envVal)
}

func ExecCmdWithInput(inputStr string, cmdStr string, sudo bool, envVal []string) (string, error) {
	return Default.ExecCmdWithInput(inputStr, cmdStr, sudo, envVal)
}
