// Package diag samples resource usage of the running process for the
// status stream and the terminal view.
package diag

import (
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

type ProcessStats struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpuPercent"`
	RSSBytes   uint64    `json:"rssBytes"`
	Threads    int32     `json:"threads"`
	Goroutines int       `json:"goroutines"`
	SampledAt  time.Time `json:"sampledAt"`
}

// Sampler reads the current process. CPU percent is measured between
// consecutive Sample calls, so the first sample reports 0.
type Sampler struct {
	mu   sync.Mutex
	proc *process.Process
	last ProcessStats
}

func NewSampler() (*Sampler, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	s := &Sampler{proc: p}
	// Prime the CPU counter.
	p.Percent(0)
	return s, nil
}

func (s *Sampler) Sample() (ProcessStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := ProcessStats{
		PID:        s.proc.Pid,
		Goroutines: runtime.NumGoroutine(),
		SampledAt:  time.Now(),
	}
	cpu, err := s.proc.Percent(0)
	if err != nil {
		return s.last, err
	}
	st.CPUPercent = cpu
	mem, err := s.proc.MemoryInfo()
	if err != nil {
		return s.last, err
	}
	st.RSSBytes = mem.RSS
	if n, err := s.proc.NumThreads(); err == nil {
		st.Threads = n
	}
	s.last = st
	return st, nil
}

// Last returns the most recent successful sample without touching the OS.
func (s *Sampler) Last() ProcessStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
