package store

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"trend-trader/internal/models"
)

const defaultWriteTimeout = 2 * time.Second

// JournalSink writes machine events, trade snapshots and observed bars to
// a Journal. Write failures are logged and never reach the machine.
type JournalSink struct {
	journal    Journal
	sessionID  string
	instrument string
	logger     zerolog.Logger
	timeout    time.Duration
}

// NewJournalSink creates a sink bound to one session and instrument.
func NewJournalSink(journal Journal, sessionID string, inst models.Instrument, logger zerolog.Logger) *JournalSink {
	return &JournalSink{
		journal:    journal,
		sessionID:  sessionID,
		instrument: inst.Key(),
		logger:     logger.With().Str("component", "journal").Logger(),
		timeout:    defaultWriteTimeout,
	}
}

// Record persists a transition event.
func (s *JournalSink) Record(ev models.Event) {
	if ev.SessionID == "" {
		ev.SessionID = s.sessionID
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.journal.SaveEvent(ctx, ev); err != nil {
		s.logger.Error().Err(err).Str("action", string(ev.Action)).Msg("Failed to journal event")
	}
}

// RecordTrade persists the latest snapshot of a trade.
func (s *JournalSink) RecordTrade(trade *models.Trade) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.journal.SaveTrade(ctx, s.instrument, trade); err != nil {
		s.logger.Error().Err(err).Str("trade_id", trade.ID).Msg("Failed to journal trade")
	}
}

// RecordBar persists an observed bar so a later session can seed its
// price history.
func (s *JournalSink) RecordBar(inst models.Instrument, bar models.Bar) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.journal.SaveBar(ctx, inst.Key(), bar)
}
