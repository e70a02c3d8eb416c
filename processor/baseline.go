package processor

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// PEDeltaPolicy controls the sign of the PE delta.
type PEDeltaPolicy string

const (
	PEDeltaSigned   PEDeltaPolicy = "signed"
	PEDeltaAbsolute PEDeltaPolicy = "absolute"
)

// ParsePEDeltaPolicy maps a configuration value onto a policy.
func ParsePEDeltaPolicy(s string) (PEDeltaPolicy, error) {
	switch PEDeltaPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PEDeltaSigned:
		return PEDeltaSigned, nil
	case PEDeltaAbsolute, "abs":
		return PEDeltaAbsolute, nil
	default:
		return "", fmt.Errorf("unknown pe delta policy %q", s)
	}
}

// Baseline holds the first complete spot/CE/PE observation of a session.
type Baseline struct {
	OpenSpot decimal.NullDecimal `json:"open_spot"`
	OpenCE   decimal.NullDecimal `json:"open_ce"`
	OpenPE   decimal.NullDecimal `json:"open_pe"`
}

// Deltas are current-minus-baseline differences for one tick.
type Deltas struct {
	Spot decimal.Decimal `json:"spot_delta"`
	CE   decimal.Decimal `json:"ce_delta"`
	PE   decimal.Decimal `json:"pe_delta"`
}

// BaselineTracker is a two-state machine: uninitialized until the first tick
// with spot, CE and PE all present, active afterwards. The baseline is never
// overwritten until Reset.
type BaselineTracker struct {
	policy   PEDeltaPolicy
	baseline Baseline
	active   bool
}

// NewBaselineTracker returns an uninitialized tracker.
func NewBaselineTracker(policy PEDeltaPolicy) *BaselineTracker {
	if policy == "" {
		policy = PEDeltaSigned
	}
	return &BaselineTracker{policy: policy}
}

// OnTick returns the deltas for a tick. ok is false when any input is null;
// in that case the state is left untouched and the tick produces nothing.
func (t *BaselineTracker) OnTick(spot, ce, pe decimal.NullDecimal) (Deltas, bool) {
	if !spot.Valid || !ce.Valid || !pe.Valid {
		return Deltas{}, false
	}
	if !t.active {
		t.baseline = Baseline{OpenSpot: spot, OpenCE: ce, OpenPE: pe}
		t.active = true
	}

	d := Deltas{
		Spot: spot.Decimal.Sub(t.baseline.OpenSpot.Decimal),
		CE:   ce.Decimal.Sub(t.baseline.OpenCE.Decimal),
		PE:   pe.Decimal.Sub(t.baseline.OpenPE.Decimal),
	}
	if t.policy == PEDeltaAbsolute {
		d.PE = d.PE.Abs()
	}
	return d, true
}

// Peek returns the deltas against an already captured baseline without
// capturing one. ok is false while inactive or when any input is null.
func (t *BaselineTracker) Peek(spot, ce, pe decimal.NullDecimal) (Deltas, bool) {
	if !t.active {
		return Deltas{}, false
	}
	return t.OnTick(spot, ce, pe)
}

// Active reports whether the baseline has been captured.
func (t *BaselineTracker) Active() bool { return t.active }

// Baseline returns the captured baseline; fields are null while inactive.
func (t *BaselineTracker) Baseline() Baseline { return t.baseline }

// Reset returns the tracker to the uninitialized state.
func (t *BaselineTracker) Reset() {
	t.baseline = Baseline{}
	t.active = false
}
