package scheduler

import (
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron"
)

// Scheduler fires the daily broadcast at a configured wall-clock time
type Scheduler struct {
	scheduler *gocron.Scheduler
}

// New builds a scheduler for the given timezone, falling back to UTC
// when the name cannot be resolved, and registers the daily job.
func New(timezone string, hour, minute int, job func()) *Scheduler {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		log.Printf("Warning: unknown timezone %q, falling back to UTC: %v", timezone, err)
		loc = time.UTC
	}

	s := gocron.NewScheduler(loc)
	at := fmt.Sprintf("%02d:%02d", hour, minute)
	if _, err := s.Every(1).Day().At(at).Do(job); err != nil {
		log.Printf("Failed to schedule daily broadcast at %s: %v", at, err)
	} else {
		log.Printf("Daily broadcast scheduled at %s (%s)", at, loc)
	}
	return &Scheduler{scheduler: s}
}

// Start begins running scheduled tasks in a non-blocking manner
func (s *Scheduler) Start() {
	s.scheduler.StartAsync()
}

// Stop terminates all scheduled tasks
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
}
