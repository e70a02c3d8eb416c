package pipeline

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const dateLayout = "2006-01-02"

// Session identifies one run of the process and maps wall-clock time onto
// market-local dates and time buckets.
type Session struct {
	ID       string
	Started  time.Time
	Location *time.Location
	Bucket   time.Duration
}

func NewSession(timezone string, bucket time.Duration) (*Session, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}
	if bucket < time.Minute {
		bucket = time.Minute
	}
	return &Session{
		ID:       uuid.NewString(),
		Started:  time.Now(),
		Location: loc,
		Bucket:   bucket,
	}, nil
}

// Local converts t into the market timezone.
func (s *Session) Local(t time.Time) time.Time { return t.In(s.Location) }

// Stamp returns the market-local date and the HH:MM bucket of t. Buckets are
// aligned to local midnight.
func (s *Session) Stamp(t time.Time) (date, bucket string) {
	local := s.Local(t)
	step := int(s.Bucket / time.Minute)
	minutes := local.Hour()*60 + local.Minute()
	minutes -= minutes % step
	return local.Format(dateLayout), fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
