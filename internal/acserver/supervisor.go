// AC Wrapper - Dedicated Racing Server Sidecar
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/acwrapper

// Package acserver runs the wrapped dedicated server and turns its standard
// output into live state.
//
// The server has no push API for grip, weather, wind, session or which
// player took which slot; all of that is only printed to stdout. A
// Supervisor reads that stream line by line, classifies each line and
// folds it into a State, flagging the state dirty whenever it may have
// changed so the status cache knows to rebuild.
//
//	preset, _ := acserver.LoadPreset(dir, wrapperPort)
//	sup, err := acserver.Start(acserver.Options{Executable: exe, Preset: preset})
//	<-sup.Ready() // internal HTTP port discovered
//	defer sup.Stop()
package acserver

import (
	"bufio"
	"errors"
	"io"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/acwrapper/internal/logging"
	"github.com/tomtom215/acwrapper/internal/metrics"
)

const (
	// maxLineBytes bounds one output line; longer lines are dropped.
	maxLineBytes = 1024 * 1024

	// outputDrainTimeout bounds how long output is read after the process
	// exits, in case a descendant still holds the streams open.
	outputDrainTimeout = 2 * time.Second
)

var (
	// ErrNotRunning is returned while the internal HTTP port is unknown.
	ErrNotRunning = errors.New("wrapped server is not running")

	// ErrStopped is returned once Stop has been called.
	ErrStopped = errors.New("wrapped server stopped")
)

// Options configures a Supervisor.
type Options struct {
	Executable string
	Preset     *Preset

	// UsePTY attaches stdout to a pseudo-terminal so the server's C runtime
	// flushes every line instead of block-buffering.
	UsePTY bool

	// Verbose echoes every stdout line to the operator log.
	Verbose bool

	// StopTimeout bounds the wait between SIGTERM and SIGKILL.
	StopTimeout time.Duration
}

// Supervisor owns one wrapped server process and the state derived from
// its output.
type Supervisor struct {
	opts   Options
	preset *Preset
	logger zerolog.Logger

	mu      sync.RWMutex
	rs      *runtimeState
	stopped bool

	readyOnce sync.Once
	ready     chan struct{}
	onReady   []func()

	proc     *process
	done     chan struct{}
	exitErr  error
	stopOnce sync.Once
}

// New creates a Supervisor without starting a process.
func New(opts Options) *Supervisor {
	if opts.Preset == nil {
		opts.Preset = &Preset{}
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 5 * time.Second
	}
	return &Supervisor{
		opts:   opts,
		preset: opts.Preset,
		logger: logging.WithComponent("acserver"),
		rs:     newRuntimeState(opts.Preset),
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start launches the wrapped server and begins parsing its output.
func Start(opts Options) (*Supervisor, error) {
	s := New(opts)
	if err := s.start(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Supervisor) start() error {
	p, err := startProcess(s.opts.Executable, s.preset.Args(), s.opts.UsePTY)
	if err != nil {
		return err
	}
	s.proc = p
	metrics.SetBool(metrics.WrappedServerUp, true)
	s.logger.Info().
		Str("executable", s.opts.Executable).
		Int("pid", p.pid()).
		Bool("pty", p.pty).
		Msg("Wrapped server started")

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		s.consume(p.stdout, s.handleStdout)
	}()
	go func() {
		defer readers.Done()
		s.consume(p.stderr, s.handleStderr)
	}()
	drained := make(chan struct{})
	go func() {
		readers.Wait()
		close(drained)
	}()

	go func() {
		err := p.wait()
		timer := time.NewTimer(outputDrainTimeout)
		select {
		case <-drained:
		case <-timer.C:
			s.logger.Warn().Msg("Output still open after the wrapped server exited; closing it")
		}
		timer.Stop()
		p.close()
		<-drained
		s.exited(err)
	}()
	return nil
}

// consume feeds each line of r to handle until r ends. A line longer than
// maxLineBytes is dropped and reading continues with the next one.
func (s *Supervisor) consume(r io.Reader, handle func(string)) {
	br := bufio.NewReaderSize(r, 16*1024)
	var (
		buf      []byte
		overlong bool
	)
	for {
		chunk, err := br.ReadSlice('\n')
		if !overlong {
			if len(buf)+len(chunk) > maxLineBytes {
				overlong = true
				buf = buf[:0]
			} else {
				buf = append(buf, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}

		switch {
		case overlong:
			s.logger.Warn().Int("limit", maxLineBytes).Msg("Dropped over-long output line")
			metrics.LogLinesTotal.WithLabelValues("overlong").Inc()
		case len(buf) > 0:
			if line := trimLine(string(buf)); line != "" {
				handle(line)
			}
		}
		buf, overlong = buf[:0], false

		if err != nil {
			s.logReadError(err)
			return
		}
	}
}

func (s *Supervisor) logReadError(err error) {
	switch {
	case errors.Is(err, io.EOF):
	// A pty returns EIO once the child side closes.
	case errors.Is(err, syscall.EIO), errors.Is(err, os.ErrClosed):
		s.logger.Debug().Err(err).Msg("Output stream closed")
	default:
		s.logger.Warn().Err(err).Msg("Reading wrapped server output failed")
	}
}

func (s *Supervisor) handleStdout(line string) {
	if s.opts.Verbose {
		s.logger.Debug().Str("line", line).Msg("stdout")
	}
	s.handleLine(line, time.Now())
}

func (s *Supervisor) handleStderr(line string) {
	s.logger.Warn().Str("line", line).Msg("stderr")
}

// handleLine classifies and applies one line. Lines are applied strictly
// in arrival order; nothing is applied after Stop.
func (s *Supervisor) handleLine(line string, now time.Time) {
	m := Classify(line)

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	res := s.rs.apply(m)
	s.rs.appendLog(line, now)
	state := s.rs.State
	s.mu.Unlock()

	kind := m.Kind.String()
	if res.badPayload {
		kind = "malformed"
	}
	metrics.LogLinesTotal.WithLabelValues(kind).Inc()

	switch {
	case res.portFound:
		s.logger.Info().Int("port", state.HTTPPort).Msg("Wrapped server HTTP port discovered")
		s.fireReady()
	case !res.changed:
	case m.Kind == LineGrip:
		s.logger.Info().Float64("grip", state.Grip).Float64("transfer", state.GripTransfer).Msg("Grip changed")
	case m.Kind == LineWeather:
		s.logger.Info().
			Float64("ambient", state.AmbientTemp).
			Float64("road", state.RoadTemp).
			Str("weather", state.WeatherID).
			Msg("Weather changed")
	case m.Kind == LineWind:
		s.logger.Info().Float64("speed", state.WindSpeed).Float64("direction", state.WindDirection).Msg("Wind changed")
	case m.Kind == LineSessionType:
		s.logger.Info().Int("session", state.SessionType).Msg("Session type changed")
	case m.Kind == LineSlotFound:
		s.logger.Info().Int("slot", res.boundSlot).Msg("Player bound to slot")
	}
}

func (s *Supervisor) fireReady() {
	s.readyOnce.Do(func() {
		metrics.SetBool(metrics.WrappedServerReady, true)
		s.mu.Lock()
		callbacks := s.onReady
		s.onReady = nil
		close(s.ready)
		s.mu.Unlock()
		for _, cb := range callbacks {
			cb()
		}
	})
}

// Ready is closed once the internal HTTP port is known.
func (s *Supervisor) Ready() <-chan struct{} {
	return s.ready
}

// OnReady registers cb to run once when the port is discovered. If that
// already happened, cb runs immediately on the calling goroutine.
func (s *Supervisor) OnReady(cb func()) {
	s.mu.Lock()
	select {
	case <-s.ready:
		s.mu.Unlock()
		cb()
		return
	default:
	}
	s.onReady = append(s.onReady, cb)
	s.mu.Unlock()
}

func (s *Supervisor) exited(err error) {
	s.mu.Lock()
	s.exitErr = err
	stopped := s.stopped
	s.mu.Unlock()
	metrics.SetBool(metrics.WrappedServerUp, false)
	metrics.SetBool(metrics.WrappedServerReady, false)

	ev := s.logger.Error()
	if stopped {
		ev = s.logger.Info()
	}
	ev.Err(err).Int("exit_code", s.proc.exitCode()).Msg("Wrapped server exited")
	close(s.done)
}

// Done is closed when the wrapped server process has exited. It never
// closes for a Supervisor created with New.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// ExitErr returns the process exit error once Done is closed.
func (s *Supervisor) ExitErr() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.exitErr
}

// Stop terminates the wrapped server and waits for it to exit. After Stop
// no further output is applied to the state. Calling Stop again, or after
// the process has already exited, is a no-op.
func (s *Supervisor) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()

		if s.proc == nil {
			return
		}
		err = s.proc.terminate(s.done, s.opts.StopTimeout)
	})
	return err
}

// Stopped reports whether Stop has been called.
func (s *Supervisor) Stopped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopped
}

// Endpoint returns the internal HTTP port, ErrNotRunning before it is
// known, or ErrStopped after Stop.
func (s *Supervisor) Endpoint() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.rs.HTTPPort == -1 {
		return 0, ErrNotRunning
	}
	if s.stopped {
		return 0, ErrStopped
	}
	return s.rs.HTTPPort, nil
}

// State returns a copy of the current state.
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rs.snapshot()
}

// Dirty reports whether the state changed since the last MarkClean, along
// with a generation to pass back to MarkClean.
func (s *Supervisor) Dirty() (bool, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rs.dirty, s.rs.generation
}

// MarkClean clears the dirty flag unless the state changed again after
// generation was read.
func (s *Supervisor) MarkClean(generation uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rs.generation == generation {
		s.rs.dirty = false
	}
}

// MarkDirty forces the next status request to rebuild.
func (s *Supervisor) MarkDirty() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rs.markDirty()
}

// Log returns a copy of the bounded output log.
func (s *Supervisor) Log() Log {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]LogEntry, len(s.rs.log))
	copy(entries, s.rs.log)
	return Log{Entries: entries, LastModified: s.rs.logModified}
}

// Preset returns the preset the server was started with.
func (s *Supervisor) Preset() *Preset {
	return s.preset
}

func trimLine(line string) string {
	start, end := 0, len(line)
	for start < end && isSpace(line[start]) {
		start++
	}
	for end > start && isSpace(line[end-1]) {
		end--
	}
	return line[start:end]
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n' || c == '\v' || c == '\f'
}
