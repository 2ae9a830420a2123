package cron

import (
	"context"
	"time"
)

// Job is one unit of periodic maintenance.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Entry pairs a job with how often it should run. A zero Every runs the
// job on every pass.
type Entry struct {
	Job   Job
	Every time.Duration
}

// Registry holds the jobs a cron-worker runs, in registration order.
type Registry struct {
	entries []Entry
}

func NewRegistry(entries ...Entry) *Registry {
	r := &Registry{}
	for _, e := range entries {
		r.Register(e.Job, e.Every)
	}
	return r
}

// Register adds job. Nil jobs are ignored.
func (r *Registry) Register(job Job, every time.Duration) {
	if job == nil {
		return
	}
	if every < 0 {
		every = 0
	}
	r.entries = append(r.entries, Entry{Job: job, Every: every})
}

// Entries returns a copy of the registered entries.
func (r *Registry) Entries() []Entry {
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}
