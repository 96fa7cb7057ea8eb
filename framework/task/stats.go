package task

import (
	"sync"
	"time"
)

// Stats статистика периода и времени вычислений задачи
type Stats struct {
	Period      time.Duration `json:"period"`
	Cycles      uint64        `json:"cycles"`
	Overruns    uint64        `json:"overruns"`
	PeriodLast  time.Duration `json:"period_last"`
	PeriodAvg   time.Duration `json:"period_avg"`
	PeriodMin   time.Duration `json:"period_min"`
	PeriodMax   time.Duration `json:"period_max"`
	ComputeLast time.Duration `json:"compute_last"`
	ComputeAvg  time.Duration `json:"compute_avg"`
	ComputeMax  time.Duration `json:"compute_max"`
}

type statsCollector struct {
	mu         sync.Mutex
	stats      Stats
	lastStart  time.Time
	periodSum  time.Duration
	computeSum time.Duration
}

func (s *statsCollector) record(start time.Time, compute time.Duration, overrun bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := &s.stats
	st.Cycles++
	if overrun {
		st.Overruns++
	}

	st.ComputeLast = compute
	s.computeSum += compute
	st.ComputeAvg = s.computeSum / time.Duration(st.Cycles)
	if compute > st.ComputeMax {
		st.ComputeMax = compute
	}

	if !s.lastStart.IsZero() {
		period := start.Sub(s.lastStart)
		st.PeriodLast = period
		s.periodSum += period
		st.PeriodAvg = s.periodSum / time.Duration(st.Cycles-1)
		if st.PeriodMin == 0 || period < st.PeriodMin {
			st.PeriodMin = period
		}
		if period > st.PeriodMax {
			st.PeriodMax = period
		}
	}
	s.lastStart = start
}

func (s *statsCollector) snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// resetPeriod забывает начало последнего цикла (после Suspend период не считается)
func (s *statsCollector) resetPeriod() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastStart = time.Time{}
}
