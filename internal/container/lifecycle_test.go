package container

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordingComponent(name string, log *[]string, startErr, stopErr error) *funcComponent {
	return &funcComponent{
		name: name,
		start: func(context.Context) error {
			*log = append(*log, "start:"+name)
			return startErr
		},
		stop: func() error {
			*log = append(*log, "stop:"+name)
			return stopErr
		},
	}
}

func TestLifecycleStartsInOrderStopsInReverse(t *testing.T) {
	var log []string
	m := NewLifecycleManager()
	m.Register(recordingComponent("a", &log, nil, nil))
	m.Register(recordingComponent("b", &log, nil, nil))
	m.Register(recordingComponent("c", &log, nil, nil))

	require.NoError(t, m.StartAll(context.Background()))
	require.NoError(t, m.StopAll())
	assert.Equal(t, []string{"start:a", "start:b", "start:c", "stop:c", "stop:b", "stop:a"}, log)
}

func TestLifecycleRollsBackOnStartFailure(t *testing.T) {
	var log []string
	boom := errors.New("boom")
	m := NewLifecycleManager()
	m.Register(recordingComponent("a", &log, nil, nil))
	m.Register(recordingComponent("b", &log, nil, nil))
	m.Register(recordingComponent("c", &log, boom, nil))

	err := m.StartAll(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "start c")
	assert.Equal(t, []string{"start:a", "start:b", "start:c", "stop:b", "stop:a"}, log)
}

func TestLifecycleStopJoinsErrors(t *testing.T) {
	var log []string
	e1, e2 := errors.New("e1"), errors.New("e2")
	m := NewLifecycleManager()
	m.Register(recordingComponent("a", &log, nil, e1))
	m.Register(recordingComponent("b", &log, nil, e2))

	err := m.StopAll()
	assert.ErrorIs(t, err, e1)
	assert.ErrorIs(t, err, e2)
	assert.Len(t, log, 2, "every component is stopped even after a failure")
}

func TestLifecycleHealth(t *testing.T) {
	sick := errors.New("sick")
	m := NewLifecycleManager()
	m.Register(&funcComponent{name: "ok"})
	m.Register(&funcComponent{name: "bad", health: func() error { return sick }})

	err := m.CheckHealth()
	assert.ErrorIs(t, err, sick)
	assert.Contains(t, err.Error(), "bad")
}
