package scheduler

// Metrics is a read-only view of the scheduler, safe to read while a turn is
// in progress.
type Metrics struct {
	Turn uint64 `json:"turn"`

	// Joined counts every seat handed out, including players that left.
	Joined  int `json:"joined"`
	Active  int `json:"active"`
	Pending int `json:"pending"`
	Seats   int `json:"seats"`

	Spectators int `json:"spectators"`

	StepMS     float64 `json:"step_ms"`
	TurnsTotal uint64  `json:"turns_total"`

	Score []int `json:"score"`
}

func (s *Scheduler) Metrics() Metrics {
	v := s.metrics.Load()
	if v == nil {
		return Metrics{}
	}
	m, ok := v.(Metrics)
	if !ok {
		return Metrics{}
	}
	return m
}

func (s *Scheduler) publishMetricsLocked() {
	m := Metrics{
		Turn:       s.state.Turn(),
		Joined:     len(s.seats),
		Seats:      s.state.Map().Players(),
		StepMS:     float64(s.lastStep.Microseconds()) / 1000,
		TurnsTotal: s.turnsRun,
		Score:      s.state.Score(),
		Spectators: len(s.watchers),
	}
	for _, st := range s.seats {
		if st.left {
			continue
		}
		m.Active++
		if st.submitted {
			m.Pending++
		}
	}
	s.metrics.Store(m)
}
