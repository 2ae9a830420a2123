package cron

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubJob struct {
	name string
}

func (s *stubJob) Name() string              { return s.name }
func (s *stubJob) Run(context.Context) error { return nil }

func TestRegistryKeepsOrderAndSkipsNil(t *testing.T) {
	registry := NewRegistry(Entry{Job: &stubJob{name: "a"}, Every: time.Hour})
	registry.Register(nil, time.Minute)
	registry.Register(&stubJob{name: "b"}, -time.Second)

	entries := registry.Entries()
	require.Len(t, entries, 2)
	require.Equal(t, "a", entries[0].Job.Name())
	require.Equal(t, time.Hour, entries[0].Every)
	require.Equal(t, "b", entries[1].Job.Name())
	require.Zero(t, entries[1].Every)

	entries[0].Job = nil
	require.NotNil(t, registry.Entries()[0].Job)
}
