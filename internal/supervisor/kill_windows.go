//go:build windows

package supervisor

import (
	"os/exec"
	"syscall"
)

// killByImageName terminates every process whose image name matches, catching
// helper children the tracked handle does not cover.
func killByImageName(image string) error {
	cmd := exec.Command("taskkill", "/F", "/IM", image)
	cmd.SysProcAttr = &syscall.SysProcAttr{HideWindow: true}
	return cmd.Run()
}

func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}
