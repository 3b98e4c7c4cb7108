package pid

import "sync"

// DefaultSeriesCap is how many samples each PID's history retains.
const DefaultSeriesCap = 100

// Series is a bounded FIFO history of decoded samples for one PID. When
// full, pushing drops the oldest sample. Series itself is not
// synchronized; SeriesSet provides the locked variant.
type Series struct {
	limit int
	vals  []DecodedValue
}

// NewSeries returns a series holding at most limit samples
// (DefaultSeriesCap if limit is zero or negative).
func NewSeries(limit int) *Series {
	if limit <= 0 {
		limit = DefaultSeriesCap
	}
	return &Series{limit: limit}
}

// Push appends a sample, evicting the oldest when the series is full.
func (s *Series) Push(v DecodedValue) {
	s.vals = append(s.vals, v)
	if len(s.vals) > s.limit {
		n := copy(s.vals, s.vals[len(s.vals)-s.limit:])
		s.vals = s.vals[:n]
	}
}

// Len reports how many samples the series holds.
func (s *Series) Len() int { return len(s.vals) }

// Values returns the samples oldest first. The slice is a copy.
func (s *Series) Values() []DecodedValue {
	return append([]DecodedValue(nil), s.vals...)
}

// Latest returns the newest sample, if any.
func (s *Series) Latest() (DecodedValue, bool) {
	if len(s.vals) == 0 {
		return DecodedValue{}, false
	}
	return s.vals[len(s.vals)-1], true
}

// SeriesSet keeps one bounded series per PID behind a lock.
type SeriesSet struct {
	mu    sync.Mutex
	limit int
	byPid map[byte]*Series
}

// NewSeriesSet returns a set whose per-PID series hold at most limit
// samples each.
func NewSeriesSet(limit int) *SeriesSet {
	if limit <= 0 {
		limit = DefaultSeriesCap
	}
	return &SeriesSet{limit: limit, byPid: make(map[byte]*Series)}
}

// Push records a sample in its PID's series.
func (s *SeriesSet) Push(v DecodedValue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ser, ok := s.byPid[v.Pid]
	if !ok {
		ser = NewSeries(s.limit)
		s.byPid[v.Pid] = ser
	}
	ser.Push(v)
}

// Values returns the recorded samples for one PID, oldest first.
func (s *SeriesSet) Values(p byte) []DecodedValue {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ser, ok := s.byPid[p]; ok {
		return ser.Values()
	}
	return nil
}

// Latest returns the newest sample for one PID, if any.
func (s *SeriesSet) Latest(p byte) (DecodedValue, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ser, ok := s.byPid[p]; ok {
		return ser.Latest()
	}
	return DecodedValue{}, false
}

// Snapshot returns the newest sample per PID.
func (s *SeriesSet) Snapshot() map[byte]DecodedValue {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[byte]DecodedValue, len(s.byPid))
	for p, ser := range s.byPid {
		if v, ok := ser.Latest(); ok {
			out[p] = v
		}
	}
	return out
}

// Reset drops all recorded samples.
func (s *SeriesSet) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byPid = make(map[byte]*Series)
}
