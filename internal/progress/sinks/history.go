package sinks

import (
	"context"
	"errors"
	"time"

	"github.com/JakeFAU/lcf-connectors/internal/crawler"
	"github.com/JakeFAU/lcf-connectors/internal/progress"
)

// HistoryRecorder appends activities to a connection's history.
type HistoryRecorder interface {
	RecordHistoryAt(ctx context.Context, connection string, act crawler.Activity, end time.Time) error
}

// HistorySink persists ACTIVITY events as history rows. Other stages are
// ignored.
type HistorySink struct {
	recorder HistoryRecorder
}

// NewHistorySink builds a HistorySink over recorder.
func NewHistorySink(recorder HistoryRecorder) *HistorySink {
	return &HistorySink{recorder: recorder}
}

// Consume writes every activity in batch, continuing past failures so one bad
// row does not lose the rest. The joined error is returned.
func (s *HistorySink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.recorder == nil {
		return nil
	}
	var errs []error
	for _, evt := range batch {
		if evt.Stage != progress.StageActivity {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		act := crawler.Activity{
			Type:              evt.ActivityType,
			Start:             evt.Start,
			Bytes:             evt.Bytes,
			Entity:            evt.Entity,
			ResultCode:        evt.ResultCode,
			ResultDescription: evt.ResultDescription,
		}
		if err := s.recorder.RecordHistoryAt(ctx, evt.Connection, act, evt.TS); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close implements the Sink interface; it performs no action.
func (s *HistorySink) Close(context.Context) error {
	return nil
}
