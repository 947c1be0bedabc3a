package shell

import (
	"errors"
	"runtime"
	"strings"
	"testing"
)

func TestGetFullCmdStr(t *testing.T) {
	if isWindows {
		t.Skip("sudo prefix is not used on windows")
	}
	tests := []struct {
		name   string
		cmd    string
		sudo   bool
		env    []string
		expect string
	}{
		{"plain", "lsblk -J", false, nil, "lsblk -J"},
		{"sudo", "umount /dev/sdb1", true, nil, "sudo umount /dev/sdb1"},
		{"env", "lsblk", false, []string{"LANG=C"}, "LANG=C lsblk"},
		{"sudo env", "sync", true, []string{"A=1", "B=2"}, "sudo A=1 B=2 sync"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetFullCmdStr(tt.cmd, tt.sudo, tt.env); got != tt.expect {
				t.Errorf("GetFullCmdStr() = %q, want %q", got, tt.expect)
			}
		})
	}
}

func TestExecCmd(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("bash is required")
	}

	out, err := ExecCmd("echo hello", false, nil)
	if err != nil {
		t.Fatalf("ExecCmd failed: %v", err)
	}
	if strings.TrimSpace(out) != "hello" {
		t.Errorf("ExecCmd output = %q", out)
	}

	out, err = ExecCmd("echo oops >&2; exit 3", false, nil)
	if err == nil {
		t.Fatal("expected error for failing command")
	}
	if !strings.Contains(err.Error(), "oops") || !strings.Contains(out, "oops") {
		t.Errorf("expected output in result and error, got %q / %v", out, err)
	}

	out, err = ExecCmdWithInput("abc", "cat", false, nil)
	if err != nil || out != "abc" {
		t.Errorf("ExecCmdWithInput = %q, %v", out, err)
	}

	if _, err := ExecCmdSilent("exit 1", false, nil); err == nil {
		t.Error("expected error from ExecCmdSilent")
	}
}

func TestIsCommandExist(t *testing.T) {
	original := Default
	defer func() { Default = original }()

	Default = NewMockExecutor([]MockCommand{
		{Pattern: "lsblk$", Output: "/usr/bin/lsblk", Error: nil},
		{Pattern: "missing$", Output: "", Error: errors.New("exit status 1")},
		{Pattern: "broken$", Output: "permission denied", Error: errors.New("exit status 126")},
	})

	if ok, err := IsCommandExist("lsblk"); !ok || err != nil {
		t.Errorf("IsCommandExist(lsblk) = %v, %v", ok, err)
	}
	if ok, err := IsCommandExist("missing"); ok || err != nil {
		t.Errorf("IsCommandExist(missing) = %v, %v", ok, err)
	}
	if !isWindows {
		if _, err := IsCommandExist("broken"); err == nil {
			t.Error("expected error when the lookup itself fails")
		}
	}
}

func TestMockExecutor(t *testing.T) {
	m := NewMockExecutor([]MockCommand{
		{Pattern: "^lsblk", Output: "{}"},
		{Pattern: "(", Output: ""},
	})

	if out, err := m.ExecCmd("lsblk -J", false, nil); err != nil || out != "{}" {
		t.Errorf("ExecCmd = %q, %v", out, err)
	}
	if _, err := m.ExecCmdSilent("umount /dev/sdb1", true, nil); err == nil {
		t.Error("expected error for a command without mock")
	}
	if len(m.Calls) != 2 || m.Calls[1] != "umount /dev/sdb1" {
		t.Errorf("unexpected calls: %v", m.Calls)
	}
}
