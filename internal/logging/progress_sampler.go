package logging

// ProgressSampler thins per-frame progress down to one log line per step of
// percent. The first report and completion always log.
type ProgressSampler struct {
	step float64
	last int
	done bool
}

// NewProgressSampler returns a sampler that logs every step percent. A
// non-positive step defaults to 10.
func NewProgressSampler(step float64) *ProgressSampler {
	if step <= 0 {
		step = 10
	}
	return &ProgressSampler{step: step, last: -1}
}

// ShouldLog reports whether percent crossed into a new step. Negative
// percentages mean unknown progress and never log.
func (s *ProgressSampler) ShouldLog(percent float64) bool {
	if s == nil {
		return true
	}
	if percent < 0 || s.done {
		return false
	}
	if percent >= 100 {
		s.done = true
		return true
	}
	bucket := int(percent / s.step)
	if bucket <= s.last {
		return false
	}
	s.last = bucket
	return true
}

// ShouldLogFrames is ShouldLog for a frame count.
func (s *ProgressSampler) ShouldLogFrames(done, total int) bool {
	if total <= 0 {
		return false
	}
	return s.ShouldLog(float64(done) / float64(total) * 100)
}
