//go:build !windows

package supervisor

import (
	"os/exec"
	"syscall"
)

// killByImageName terminates every process whose image name matches, catching
// helper children the tracked handle does not cover.
func killByImageName(image string) error {
	cmd := exec.Command("pkill", "-9", "-f", image)
	return cmd.Run()
}

func configureSysProcAttr(cmd *exec.Cmd) {
	// Own process group so a helper's children share its fate on signal.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
