package startup

import (
	"context"
	"errors"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type journal struct {
	events []string
}

func (j *journal) dep(name string, requires ...string) Func {
	return Func{
		Name:     name,
		Requires: requires,
		StartFn: func(context.Context) error {
			j.events = append(j.events, "start "+name)
			return nil
		},
		StopFn: func(context.Context) error {
			j.events = append(j.events, "stop "+name)
			return nil
		},
	}
}

func newStartup(attempts int) *Startup {
	s := New(ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}), attempts)
	s.backoffUnit = 0
	return s
}

func TestStart_DependencyOrder(t *testing.T) {
	j := &journal{}
	s := newStartup(1)
	s.Add(j.dep("worker", "database", "redis"))
	s.Add(j.dep("redis"))
	s.Add(j.dep("database"))

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, []string{"start database", "start redis", "start worker"}, j.events)
	assert.Equal(t, StatusStarted, s.Status("worker"))

	j.events = nil
	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, []string{"stop worker", "stop redis", "stop database"}, j.events)
	assert.Equal(t, StatusStopped, s.Status("database"))
}

func TestStart_RetriesFailedDependency(t *testing.T) {
	j := &journal{}
	s := newStartup(3)
	s.Add(j.dep("database"))

	calls := 0
	s.Add(Func{Name: "redis", StartFn: func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	}})

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, 3, calls)
	assert.Equal(t, []string{"start database"}, j.events, "started dependencies are not restarted")
}

func TestStart_GivesUp(t *testing.T) {
	s := newStartup(2)
	boom := errors.New("connection refused")
	s.Add(Func{Name: "redis", StartFn: func(context.Context) error { return boom }})

	err := s.Start(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StatusFailed, s.Status("redis"))
}

func TestStart_UnknownAndCyclicDependencies(t *testing.T) {
	j := &journal{}
	s := newStartup(1)
	s.Add(j.dep("worker", "kafka"))
	assert.Error(t, s.Start(context.Background()))

	s = newStartup(1)
	s.Add(j.dep("a", "b"))
	s.Add(j.dep("b", "a"))
	assert.Error(t, s.Start(context.Background()))
}
