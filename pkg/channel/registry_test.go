package channel

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satrio/kurir/pkg/message"
)

type fakeAdapter struct {
	name      string
	startErr  error
	stopErr   error
	starts    atomic.Int32
	stops     atomic.Int32
	healthy   bool
	handler   Handler
	sent      []message.Outbound
	initCalls int
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Initialize(_ context.Context, _ map[string]any) error {
	f.initCalls++
	return nil
}

func (f *fakeAdapter) Start(_ context.Context) error {
	f.starts.Add(1)
	if f.startErr != nil {
		return f.startErr
	}
	f.healthy = true
	return nil
}

func (f *fakeAdapter) Stop(_ context.Context) error {
	f.stops.Add(1)
	f.healthy = false
	return f.stopErr
}

func (f *fakeAdapter) SendMessage(_ context.Context, msg message.Outbound) error {
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeAdapter) OnMessage(h Handler) { f.handler = h }

func (f *fakeAdapter) Healthy() bool { return f.healthy }

func manifestFor(name string) Manifest {
	return Manifest{Name: name, Version: "1.0.0", Slot: SlotChannel}
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	a := &fakeAdapter{name: "alpha"}

	require.NoError(t, r.Register(manifestFor("alpha"), a))

	got, ok := r.Get(SlotChannel, "alpha")
	require.True(t, ok)
	assert.Same(t, a, got.(*fakeAdapter))

	_, ok = r.Get(SlotChannel, "missing")
	assert.False(t, ok)
}

func TestRegistry_RejectsDuplicate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(manifestFor("alpha"), &fakeAdapter{name: "alpha"}))

	err := r.Register(manifestFor("alpha"), &fakeAdapter{name: "alpha"})
	assert.ErrorContains(t, err, "already registered")
}

func TestRegistry_RejectsInvalidManifest(t *testing.T) {
	r := NewRegistry()
	err := r.Register(Manifest{Name: "Alpha!", Version: "1.0.0", Slot: SlotChannel}, &fakeAdapter{name: "alpha"})
	assert.Error(t, err)
}

func TestRegistry_ListSortedByName(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(manifestFor("bravo"), &fakeAdapter{name: "bravo"}))
	require.NoError(t, r.Register(manifestFor("alpha"), &fakeAdapter{name: "alpha"}))

	adapters := r.List(SlotChannel)
	require.Len(t, adapters, 2)
	assert.Equal(t, "alpha", adapters[0].Name())
	assert.Equal(t, "bravo", adapters[1].Name())
}

func TestRegistry_StartAllIsolatesFailures(t *testing.T) {
	r := NewRegistry()
	broken := &fakeAdapter{name: "broken", startErr: errors.New("boom")}
	ok1 := &fakeAdapter{name: "alpha"}
	ok2 := &fakeAdapter{name: "zulu"}

	require.NoError(t, r.Register(manifestFor("alpha"), ok1))
	require.NoError(t, r.Register(manifestFor("broken"), broken))
	require.NoError(t, r.Register(manifestFor("zulu"), ok2))

	err := r.StartAll(context.Background())

	// The failure is reported but every other adapter still started.
	assert.ErrorContains(t, err, "broken")
	assert.Equal(t, int32(1), ok1.starts.Load())
	assert.Equal(t, int32(1), ok2.starts.Load())
	assert.True(t, ok1.Healthy())
	assert.True(t, ok2.Healthy())
	assert.False(t, broken.Healthy())
}

func TestRegistry_StartAllSkipsAlreadyStarted(t *testing.T) {
	r := NewRegistry()
	a := &fakeAdapter{name: "alpha"}
	require.NoError(t, r.Register(manifestFor("alpha"), a))

	require.NoError(t, r.StartAll(context.Background()))
	require.NoError(t, r.StartAll(context.Background()))

	assert.Equal(t, int32(1), a.starts.Load())
}

func TestRegistry_StopAllStopsStartedOnly(t *testing.T) {
	r := NewRegistry()
	started := &fakeAdapter{name: "alpha"}
	never := &fakeAdapter{name: "bravo", startErr: errors.New("no")}

	require.NoError(t, r.Register(manifestFor("alpha"), started))
	require.NoError(t, r.Register(manifestFor("bravo"), never))

	_ = r.StartAll(context.Background())
	require.NoError(t, r.StopAll(context.Background()))

	assert.Equal(t, int32(1), started.stops.Load())
	assert.Equal(t, int32(0), never.stops.Load())
}

func TestRegistry_StopAllTolerantOfErrors(t *testing.T) {
	r := NewRegistry()
	bad := &fakeAdapter{name: "alpha", stopErr: errors.New("stuck")}
	good := &fakeAdapter{name: "bravo"}

	require.NoError(t, r.Register(manifestFor("alpha"), bad))
	require.NoError(t, r.Register(manifestFor("bravo"), good))
	require.NoError(t, r.StartAll(context.Background()))

	err := r.StopAll(context.Background())
	assert.ErrorContains(t, err, "stuck")
	assert.Equal(t, int32(1), good.stops.Load())
}

func TestRegistry_Manifests(t *testing.T) {
	r := NewRegistry()
	m := Manifest{Name: "alpha", Version: "2.1.0", Slot: SlotChannel, Description: "test adapter"}
	require.NoError(t, r.Register(m, &fakeAdapter{name: "alpha"}))

	manifests := r.Manifests(SlotChannel)
	require.Len(t, manifests, 1)
	assert.Equal(t, m, manifests[0])
}
