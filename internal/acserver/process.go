// AC Wrapper - Dedicated Racing Server Sidecar
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/acwrapper

package acserver

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// process is the spawned server with its output streams.
type process struct {
	cmd    *exec.Cmd
	stdout io.Reader
	stderr io.Reader
	pty    bool

	closers []io.Closer
}

// startProcess spawns executable in its own process group. With usePTY,
// stdout is a pseudo-terminal and stderr a plain pipe; platforms without
// pty support fall back to pipes.
func startProcess(executable string, args []string, usePTY bool) (*process, error) {
	if usePTY {
		p, err := startWithPTY(executable, args)
		if !errors.Is(err, pty.ErrUnsupported) {
			return p, err
		}
	}

	cmd := exec.Command(executable, args...) //nolint:gosec // executable comes from operator config
	setProcessGroup(cmd)

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		closeAll(stdoutR, stdoutW)
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	err = cmd.Start()
	closeAll(stdoutW, stderrW)
	if err != nil {
		closeAll(stdoutR, stderrR)
		return nil, fmt.Errorf("start %s: %w", executable, err)
	}
	return &process{
		cmd:     cmd,
		stdout:  stdoutR,
		stderr:  stderrR,
		closers: []io.Closer{stdoutR, stderrR},
	}, nil
}

// startWithPTY starts the child as a session leader on a new terminal,
// which also makes it the leader of its own process group.
func startWithPTY(executable string, args []string) (*process, error) {
	cmd := exec.Command(executable, args...) //nolint:gosec // executable comes from operator config

	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	cmd.Stderr = stderrW

	ptmx, err := pty.Start(cmd)
	_ = stderrW.Close()
	if err != nil {
		_ = stderrR.Close()
		if errors.Is(err, pty.ErrUnsupported) {
			return nil, err
		}
		return nil, fmt.Errorf("start %s: %w", executable, err)
	}

	return &process{
		cmd:     cmd,
		stdout:  ptmx,
		stderr:  stderrR,
		pty:     true,
		closers: []io.Closer{ptmx, stderrR},
	}, nil
}

func closeAll(cs ...io.Closer) {
	for _, c := range cs {
		_ = c.Close()
	}
}

func (p *process) pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// wait reaps the process. The output streams stay open until close.
func (p *process) wait() error {
	return p.cmd.Wait()
}

// close releases the read side of the output streams, unblocking readers
// still waiting on descendants that inherited them.
func (p *process) close() {
	closeAll(p.closers...)
}

func (p *process) exitCode() int {
	if p.cmd.ProcessState == nil {
		return -1
	}
	return p.cmd.ProcessState.ExitCode()
}

// terminate sends SIGTERM to the process group, then SIGKILL if the
// process has not exited within timeout. It returns once done is closed.
func (p *process) terminate(done <-chan struct{}, timeout time.Duration) error {
	select {
	case <-done:
		return nil
	default:
	}

	if err := p.signal(syscall.SIGTERM); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			<-done
			return nil
		}
		// Not every platform can deliver SIGTERM.
		return p.kill(done)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return p.kill(done)
	}
}

func (p *process) kill(done <-chan struct{}) error {
	if err := p.signal(syscall.SIGKILL); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill wrapped server: %w", err)
	}
	<-done
	return nil
}
