package engine

// ExecutionProbe records the largest and smallest number of live values
// seen at the start of each execution step. It has no effect on results.
type ExecutionProbe struct {
	MaxNumValues int
	MinNumValues int

	samples int
}

// NewExecutionProbe returns an empty probe.
func NewExecutionProbe() *ExecutionProbe {
	return &ExecutionProbe{}
}

// Observe folds one live-value count into the running extremes.
func (p *ExecutionProbe) Observe(live int) {
	if p.samples == 0 || live > p.MaxNumValues {
		p.MaxNumValues = live
	}
	if p.samples == 0 || live < p.MinNumValues {
		p.MinNumValues = live
	}
	p.samples++
}

// Samples returns how many steps were observed.
func (p *ExecutionProbe) Samples() int {
	return p.samples
}
