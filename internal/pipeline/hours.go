package pipeline

import (
	"fmt"
	"time"

	appconfig "atmflow/config"
)

// Hours is an inclusive market window in minutes after local midnight. With
// Gate off every time is inside the window.
type Hours struct {
	Gate  bool
	Start int
	End   int
}

func NewHours(cfg appconfig.HoursConfig) (Hours, error) {
	h := Hours{Gate: cfg.Gate}
	if !cfg.Gate {
		return h, nil
	}
	start, err := appconfig.ParseClock(cfg.Start)
	if err != nil {
		return h, fmt.Errorf("hours start: %w", err)
	}
	end, err := appconfig.ParseClock(cfg.End)
	if err != nil {
		return h, fmt.Errorf("hours end: %w", err)
	}
	if end < start {
		return h, fmt.Errorf("hours end %s before start %s", cfg.End, cfg.Start)
	}
	h.Start, h.End = start, end
	return h, nil
}

// Open reports whether the market-local time t falls inside the window. End
// is the first second of the closing minute, so 15:30:01 is past 15:30.
func (h Hours) Open(t time.Time) bool {
	if !h.Gate {
		return true
	}
	sec := t.Hour()*3600 + t.Minute()*60 + t.Second()
	return sec >= h.Start*60 && sec <= h.End*60
}
