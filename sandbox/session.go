package sandbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tetratelabs/wazero/experimental"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"
)

type sessionState int

const (
	stateBuilt sessionState = iota
	stateInstantiated
	stateInvoked
	stateSucceeded
	stateGuestError
	stateInterrupted
	stateHostTrap
	stateInitFailed
)

func (s sessionState) String() string {
	return [...]string{"built", "instantiated", "invoked", "succeeded", "guest_error", "interrupted", "host_trap", "init_failed"}[s]
}

// session is one isolated, one-shot execution: a fresh module instance with
// its own capabilities, limiter, epoch and watcher. It is never reused.
type session struct {
	id     string
	host   *Host
	cap    Capability
	code   string
	state  sessionState
	frames *frameReader
	logger *zap.Logger
}

func newSession(h *Host, c Capability, code string) *session {
	id := uuid.NewString()
	return &session{
		id:     id,
		host:   h,
		cap:    c,
		code:   code,
		state:  stateBuilt,
		frames: newFrameReader(h.cfg.stderr),
		logger: h.logger.With(zap.String("session", id), zap.String("capability", string(c))),
	}
}

func (s *session) run(parent context.Context) (string, error) {
	start := time.Now()
	cfg := s.host.cfg

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	ctx = experimental.WithMemoryAllocator(ctx, cfg.limiter)

	// The watcher is armed before instantiation so the budget covers the
	// whole session.
	watcher := startWatcher(cfg.timeout, newEpoch(epochDeadline, cancel))
	defer watcher.Stop()

	caps := CapabilityContext{
		Stdin:  cfg.stdin,
		Stdout: cfg.stdout,
		Stderr: s.frames,
		Args:   s.host.guest.Args(s.cap, s.code),
	}

	mod, err := s.host.runtime.InstantiateModule(ctx, s.host.compiled, caps.moduleConfig())
	if err != nil {
		return s.finish(start, "", initErrorf(err, "instantiate guest"))
	}
	defer mod.Close(context.Background())
	s.state = stateInstantiated

	entry := mod.ExportedFunction("_start")
	if entry == nil {
		return s.finish(start, "", initErrorf(nil, "guest does not export _start"))
	}

	s.state = stateInvoked
	_, callErr := entry.Call(ctx)
	s.frames.Flush()

	// The timeout flag is only read after the call has returned.
	value, err := s.classify(parent, callErr, watcher.TimedOut())
	return s.finish(start, value, err)
}

func (s *session) classify(parent context.Context, callErr error, timedOut bool) (string, error) {
	if callErr != nil && !isCleanExit(callErr) {
		switch {
		case timedOut:
			return "", &Error{
				Kind:    KindInterrupted,
				Message: fmt.Sprintf("execution timed out after %v", s.host.cfg.timeout),
				Err:     callErr,
			}
		case parent.Err() != nil:
			return "", hostTrap(parent.Err())
		}
	}

	if frame := s.frames.Result(); frame != nil {
		if !frame.OK {
			return "", guestError(frame.Error)
		}
		return frame.Value, nil
	}

	if callErr != nil && !isCleanExit(callErr) {
		return "", hostTrap(callErr)
	}
	if s.frames.Malformed() {
		return "", hostTrap(fmt.Errorf("%w: malformed result frame", ErrNoResult))
	}
	return "", hostTrap(ErrNoResult)
}

func (s *session) finish(start time.Time, value string, err error) (string, error) {
	switch KindOf(err) {
	case 0:
		s.state = stateSucceeded
	case KindGuest:
		s.state = stateGuestError
	case KindInterrupted:
		s.state = stateInterrupted
	case KindInit:
		s.state = stateInitFailed
	default:
		s.state = stateHostTrap
	}

	fields := []zap.Field{
		zap.String("state", s.state.String()),
		zap.Duration("duration", time.Since(start)),
	}
	switch s.state {
	case stateInterrupted, stateHostTrap, stateInitFailed:
		s.logger.Warn("session ended abnormally", append(fields, zap.Error(err))...)
	default:
		s.logger.Debug("session finished", fields...)
	}
	return value, err
}

// isCleanExit reports whether err is proc_exit(0).
func isCleanExit(err error) bool {
	var exitErr *sys.ExitError
	return errors.As(err, &exitErr) && exitErr.ExitCode() == 0
}
