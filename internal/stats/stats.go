package stats

import "sync"

// Running keeps a running average of job processing durations.
//
// The mean is updated incrementally so it never needs to keep the sum of
// all samples around.
type Running struct {
	lock  sync.Mutex
	count uint
	avg   float64
}

func New() *Running {
	return &Running{}
}

// Update adds one duration sample, in milliseconds.
func (r *Running) Update(durationMs float64) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.count++
	r.avg += (durationMs - r.avg) / float64(r.count)
}

// Avg returns the current mean or 0 when no sample was recorded yet.
func (r *Running) Avg() float64 {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.avg
}

func (r *Running) Count() uint {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.count
}
