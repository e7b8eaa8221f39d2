//go:build windows

package infra

import (
	"os/exec"
	"syscall"
)

func configureDetached(cmd *exec.Cmd) {
	// A new process group keeps console Ctrl+C away from the primary
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}
