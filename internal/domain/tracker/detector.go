package tracker

import "sync"

// DefaultThreshold is the number of consecutive unchanged observations
// required before a resource counts as stable.
const DefaultThreshold = 3

// ConvergenceState is the detector's running state.
type ConvergenceState struct {
	LastSignature  string `json:"last_signature"`
	UnchangedCount int    `json:"unchanged_count"`
	Converged      bool   `json:"converged"`
	Observations   int    `json:"observations"`
	FailedFetches  int    `json:"failed_fetches"`
	LastShape      Shape  `json:"last_shape"`
}

// Emptiness decides whether a shape counts as empty. Empty shapes never converge.
type Emptiness func(Shape) bool

// DetectorOption customizes a Detector.
type DetectorOption func(*Detector)

// WithThreshold sets the unchanged-observation threshold. Values below 1 are ignored.
func WithThreshold(n int) DetectorOption {
	return func(d *Detector) {
		if n >= 1 {
			d.threshold = n
		}
	}
}

// WithEmptiness overrides the empty-resource predicate.
func WithEmptiness(fn Emptiness) DetectorOption {
	return func(d *Detector) {
		if fn != nil {
			d.isEmpty = fn
		}
	}
}

// Detector tracks successive shapes of one watched resource.
type Detector struct {
	mu        sync.Mutex
	threshold int
	isEmpty   Emptiness
	state     ConvergenceState
}

// NewDetector builds a detector with the default threshold.
func NewDetector(opts ...DetectorOption) *Detector {
	d := &Detector{
		threshold: DefaultThreshold,
		isEmpty:   Shape.IsEmpty,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Threshold returns the active threshold.
func (d *Detector) Threshold() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.threshold
}

// Observe folds one observation into the state and returns the new state.
//
// The first observation records the signature with an unchanged count of
// zero. Each later identical signature increments the count; any change resets
// it to zero.
func (d *Detector) Observe(shape Shape) ConvergenceState {
	sig := Signature(shape)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state.Observations > 0 && sig == d.state.LastSignature {
		d.state.UnchangedCount++
	} else {
		d.state.LastSignature = sig
		d.state.UnchangedCount = 0
	}
	d.state.Observations++
	d.state.LastShape = shape
	d.state.Converged = d.state.UnchangedCount >= d.threshold && !d.isEmpty(shape)
	return d.state
}

// ObserveFailure notes a failed fetch. The convergence state is unchanged.
func (d *Detector) ObserveFailure() ConvergenceState {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state.FailedFetches++
	return d.state
}

// RelaxTo lowers the threshold, used once the remote task reports completion.
// It never raises the threshold and re-evaluates convergence immediately.
func (d *Detector) RelaxTo(n int) ConvergenceState {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n >= 1 && n < d.threshold {
		d.threshold = n
		if d.state.Observations > 0 {
			d.state.Converged = d.state.UnchangedCount >= d.threshold && !d.isEmpty(d.state.LastShape)
		}
	}
	return d.state
}

// State returns a copy of the current state.
func (d *Detector) State() ConvergenceState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}
