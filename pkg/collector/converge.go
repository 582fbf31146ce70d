package collector

// ScrollState is the state of the per-term scroll loop.
type ScrollState int

const (
	// Growing means the page was still loading content at the last
	// measurement.
	Growing ScrollState = iota
	// Stable means the content extent did not change between two
	// measurements.
	Stable
	// Capped means more items are visible than the record cap allows.
	Capped
)

func (s ScrollState) String() string {
	switch s {
	case Growing:
		return "growing"
	case Stable:
		return "stable"
	case Capped:
		return "capped"
	default:
		return "unknown"
	}
}

// Terminal reports whether the loop stops in this state.
func (s ScrollState) Terminal() bool {
	return s == Stable || s == Capped
}

// Convergence tracks scroll measurements of one term. The first measurement
// has nothing to compare against and always keeps the loop growing unless
// the cap is already exceeded.
type Convergence struct {
	maxRecords int
	lastExtent int64
	measured   bool
	state      ScrollState
	steps      int
}

// NewConvergence returns a tracker in the Growing state.
func NewConvergence(maxRecords int) *Convergence {
	return &Convergence{maxRecords: maxRecords, state: Growing}
}

// Observe feeds one measurement and returns the new state. Once terminal the
// state no longer changes.
func (c *Convergence) Observe(extent int64, items int) ScrollState {
	if c.state.Terminal() {
		return c.state
	}
	c.steps++

	switch {
	case items > c.maxRecords:
		c.state = Capped
	case c.measured && extent == c.lastExtent:
		c.state = Stable
	}

	c.lastExtent = extent
	c.measured = true
	return c.state
}

// State returns the current state.
func (c *Convergence) State() ScrollState {
	return c.state
}

// Steps returns the number of measurements observed.
func (c *Convergence) Steps() int {
	return c.steps
}
