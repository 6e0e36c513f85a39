package ledger

import "sync/atomic"

// Sequencer hands out strictly monotonic int64 ids for orders and trades.
// Injecting it keeps id generation deterministic and replay-safe: after a
// restart it is reset to the highest persisted id.
type Sequencer struct {
	next atomic.Int64
}

// NewSequencer returns a sequencer whose next id is start+1.
func NewSequencer(start int64) *Sequencer {
	s := &Sequencer{}
	s.next.Store(start)
	return s
}

// Next returns the next id.
func (s *Sequencer) Next() int64 {
	return s.next.Add(1)
}

// Current returns the last issued id.
func (s *Sequencer) Current() int64 {
	return s.next.Load()
}

// Reset sets the sequencer after reloading persisted state.
func (s *Sequencer) Reset(v int64) {
	s.next.Store(v)
}
