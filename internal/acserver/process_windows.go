// AC Wrapper - Dedicated Racing Server Sidecar
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/acwrapper

//go:build windows

package acserver

import (
	"os/exec"
	"syscall"
)

func setProcessGroup(*exec.Cmd) {}

func (p *process) signal(sig syscall.Signal) error {
	if sig == syscall.SIGKILL {
		return p.cmd.Process.Kill()
	}
	return p.cmd.Process.Signal(sig)
}
