package trading

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"trend-trader/internal/broker"
	apperrors "trend-trader/internal/errors"
	"trend-trader/internal/feed"
	"trend-trader/internal/models"
)

// BarRecorder persists every bar the session observes.
type BarRecorder interface {
	RecordBar(inst models.Instrument, bar models.Bar) error
}

// Session drives a Machine from a bar feed. It is the only goroutine that
// calls Machine.OnBar.
type Session struct {
	machine *Machine
	feed    feed.Feed
	gateway broker.Gateway
	bars    BarRecorder
	logger  zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
	running bool
}

// NewSession creates a session. bars may be nil.
func NewSession(m *Machine, f feed.Feed, gw broker.Gateway, bars BarRecorder, logger zerolog.Logger) *Session {
	return &Session{
		machine: m,
		feed:    f,
		gateway: gw,
		bars:    bars,
		logger:  logger.With().Str("component", "session").Logger(),
	}
}

// Machine returns the driven machine.
func (s *Session) Machine() *Machine {
	return s.machine
}

// Start runs the session in the background.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return apperrors.ErrSessionRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.err = nil
	s.running = true

	go func() {
		err := s.Run(ctx)
		s.mu.Lock()
		s.err = err
		s.running = false
		close(s.done)
		s.mu.Unlock()
	}()
	return nil
}

// Stop detaches the automation and waits for the loop to exit. Working
// orders and the position are left with the broker.
func (s *Session) Stop() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed when a started session exits.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Err returns the error that ended the last run.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Run processes bars until ctx is cancelled or a fatal error occurs. A
// cancelled context returns nil.
func (s *Session) Run(ctx context.Context) error {
	bars, errs := s.feed.Stream(ctx)
	observer, simulates := s.gateway.(broker.BarObserver)
	inst := s.machine.Instrument()

	s.logger.Info().Str("instrument", inst.Key()).Msg("Session started")
	defer s.logger.Info().Msg("Session detached")

	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-errs:
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Error().Err(err).Msg("Feed failed")
			return err

		case bar, ok := <-bars:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				select {
				case err := <-errs:
					return err
				default:
				}
				return apperrors.ErrFeedTerminated
			}
			if simulates {
				observer.OnBar(bar)
			}
			if s.bars != nil {
				if err := s.bars.RecordBar(inst, bar); err != nil {
					s.logger.Warn().Err(err).Msg("Failed to persist bar")
				}
			}
			if err := s.machine.OnBar(ctx, bar); err != nil {
				return err
			}
		}
	}
}
