// Package transcript accumulates live transcription fragments into
// finalized exchanges.
package transcript

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/satriahrh/sahayak/domain/entities"
)

// Aggregator is an append-only log of exchanges plus the two partial
// accumulators of the turn in progress. Partials are reset only by
// CompleteTurn and Reset.
type Aggregator struct {
	mu        sync.RWMutex
	exchanges []entities.TranscriptExchange
	input     strings.Builder
	output    strings.Builder

	newID func() string
	now   func() time.Time
}

// Option configures an Aggregator
type Option func(*Aggregator)

// WithIDGenerator overrides uuid-based exchange ids.
func WithIDGenerator(fn func() string) Option {
	return func(a *Aggregator) { a.newID = fn }
}

// WithClock overrides time.Now.
func WithClock(fn func() time.Time) Option {
	return func(a *Aggregator) { a.now = fn }
}

// NewAggregator creates an empty aggregator
func NewAggregator(opts ...Option) *Aggregator {
	a := &Aggregator{
		newID: func() string { return uuid.New().String() },
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AppendInput adds a user-side fragment and returns the running text.
func (a *Aggregator) AppendInput(fragment string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.input.WriteString(fragment)
	return a.input.String()
}

// AppendOutput adds an assistant-side fragment and returns the running text.
func (a *Aggregator) AppendOutput(fragment string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.output.WriteString(fragment)
	return a.output.String()
}

// CompleteTurn finalizes the current turn. When both accumulators are
// blank the turn is discarded and ok is false. The accumulators are reset
// either way.
func (a *Aggregator) CompleteTurn() (exchange entities.TranscriptExchange, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	input := a.input.String()
	output := a.output.String()
	a.input.Reset()
	a.output.Reset()

	if strings.TrimSpace(input) == "" && strings.TrimSpace(output) == "" {
		return entities.TranscriptExchange{}, false
	}

	exchange = entities.TranscriptExchange{
		ID:          a.newID(),
		Position:    len(a.exchanges),
		Input:       strings.TrimSpace(input),
		Output:      strings.TrimSpace(output),
		CompletedAt: a.now(),
	}
	a.exchanges = append(a.exchanges, exchange)
	return exchange, true
}

// Partial returns the running input and output text.
func (a *Aggregator) Partial() (input, output string) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.input.String(), a.output.String()
}

// Exchanges returns a copy of the finalized log.
func (a *Aggregator) Exchanges() []entities.TranscriptExchange {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]entities.TranscriptExchange, len(a.exchanges))
	copy(out, a.exchanges)
	return out
}

// ResetPartials drops the unfinished turn without touching the log.
func (a *Aggregator) ResetPartials() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.input.Reset()
	a.output.Reset()
}
