// Package invoice issues gapless-per-series invoice numbers of the form
// <prefix><YY><YY+1><letter><00001>, one series per fiscal year and channel.
package invoice

import (
	"context"
	"fmt"
	"time"

	"github.com/learnly/platform/internal/domain"
	"github.com/learnly/platform/internal/repository"
)

// MaxSequence is the largest counter value the 5 digit suffix can hold.
const MaxSequence = 99999

// FiscalYear is identified by the calendar year it starts in.
type FiscalYear struct {
	StartYear int
}

// FiscalYearOf returns the fiscal year containing t, where years begin on the
// first day of startMonth.
func FiscalYearOf(t time.Time, startMonth time.Month) FiscalYear {
	y := t.Year()
	if t.Month() < startMonth {
		y--
	}
	return FiscalYear{StartYear: y}
}

// Code renders the year as YY followed by the next YY, e.g. "2425".
func (f FiscalYear) Code() string {
	return fmt.Sprintf("%02d%02d", f.StartYear%100, (f.StartYear+1)%100)
}

// Format builds an invoice number from its parts.
func Format(prefix string, fy FiscalYear, ch domain.Channel, seq int64) (string, error) {
	if seq < 1 || seq > MaxSequence {
		return "", fmt.Errorf("invoice sequence %d out of range for %s%s", seq, fy.Code(), ch.InvoiceLetter())
	}
	return fmt.Sprintf("%s%s%s%05d", prefix, fy.Code(), ch.InvoiceLetter(), seq), nil
}

// Counter hands out the next value of a (fiscal year, channel) series. It
// must be atomic with respect to concurrent callers on the same series.
type Counter interface {
	Next(ctx context.Context, db repository.DBTX, fiscalYear string, channel domain.Channel) (int64, error)
}

// Sequencer combines the counter with the numbering scheme.
type Sequencer struct {
	counter    Counter
	prefix     string
	startMonth time.Month
	now        func() time.Time
}

// NewSequencer creates a Sequencer. now may be nil. Fiscal years roll over
// at midnight UTC whatever zone now reports in.
func NewSequencer(counter Counter, prefix string, startMonth time.Month, now func() time.Time) *Sequencer {
	if now == nil {
		now = time.Now
	}
	return &Sequencer{counter: counter, prefix: prefix, startMonth: startMonth, now: now}
}

// Next issues the next invoice number for ch. Run it on the transaction that
// persists the payment so a rolled back checkout never consumes a number.
func (s *Sequencer) Next(ctx context.Context, db repository.DBTX, ch domain.Channel) (string, error) {
	fy := s.fiscalYear()
	seq, err := s.counter.Next(ctx, db, fy.Code(), ch)
	if err != nil {
		return "", fmt.Errorf("next invoice counter: %w", err)
	}
	return Format(s.prefix, fy, ch, seq)
}

// Preview returns the number the next checkout in ch would receive given the
// last issued value, without consuming it.
func (s *Sequencer) Preview(last int64, ch domain.Channel) (string, error) {
	return Format(s.prefix, s.fiscalYear(), ch, last+1)
}

// FiscalYearCode returns the code of the current fiscal year.
func (s *Sequencer) FiscalYearCode() string {
	return s.fiscalYear().Code()
}

func (s *Sequencer) fiscalYear() FiscalYear {
	return FiscalYearOf(s.now().UTC(), s.startMonth)
}
