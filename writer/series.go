package writer

// Record is one entry of a per-day series. Day is YYYY-MM-DD, Bucket is the
// HH:MM time bucket used for dedup.
type Record interface {
	Day() string
	Bucket() string
}

// Series is the ordered, append-only record list of a single day. At most one
// record exists per bucket and buckets never go backwards.
type Series[R Record] struct {
	date    string
	entries []R
}

func NewSeries[R Record](date string) *Series[R] {
	return &Series[R]{date: date}
}

func (s *Series[R]) Date() string { return s.date }

func (s *Series[R]) Len() int { return len(s.entries) }

// Entries returns a copy of the records, oldest first.
func (s *Series[R]) Entries() []R {
	return append([]R(nil), s.entries...)
}

// Tail returns a copy of the last n records.
func (s *Series[R]) Tail(n int) []R {
	if n <= 0 || n >= len(s.entries) {
		return s.Entries()
	}
	return append([]R(nil), s.entries[len(s.entries)-n:]...)
}

func (s *Series[R]) First() (R, bool) {
	var zero R
	if len(s.entries) == 0 {
		return zero, false
	}
	return s.entries[0], true
}

func (s *Series[R]) Last() (R, bool) {
	var zero R
	if len(s.entries) == 0 {
		return zero, false
	}
	return s.entries[len(s.entries)-1], true
}

// Append adds r when it belongs to the series' day and its bucket is later
// than the last one. It reports whether r was added.
func (s *Series[R]) Append(r R) bool {
	if r.Day() != s.date {
		return false
	}
	if last, ok := s.Last(); ok && r.Bucket() <= last.Bucket() {
		return false
	}
	s.entries = append(s.entries, r)
	return true
}

// seriesOf wraps records loaded from storage as they were persisted.
func seriesOf[R Record](date string, entries []R) *Series[R] {
	return &Series[R]{date: date, entries: entries}
}
