package capture

import "sync"

// PacketLog is the ordered, append-only capture of one session.
type PacketLog struct {
	mu      sync.Mutex
	records []Record
	bytes   int
	sealed  bool
}

// append adds rec to the end of the log. It returns false if the log was
// drained, in which case the caller must record into a fresh log.
func (l *PacketLog) append(rec Record) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sealed {
		return false
	}
	l.records = append(l.records, rec)
	l.bytes += len(rec.Payload)
	return true
}

// snapshot returns a copy of the records captured so far.
func (l *PacketLog) snapshot() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// seal marks the log as drained and hands over its records.
func (l *PacketLog) seal() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sealed = true
	out := l.records
	l.records = nil
	if out == nil {
		out = make([]Record, 0)
	}
	return out
}

// Len returns the number of records in the log.
func (l *PacketLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Bytes returns the total payload size held by the log.
func (l *PacketLog) Bytes() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bytes
}
