package clock

import "time"

// Clock abstracts time for TTL checks so tests can advance it.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func New() RealClock {
	return RealClock{}
}

func (RealClock) Now() time.Time {
	return time.Now()
}
