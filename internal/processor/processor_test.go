package processor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeCounter struct {
	counts map[string]int
}

func (f *fakeCounter) CountQueued(context.Context, string) (map[string]int, error) {
	return f.counts, nil
}

type fakeLauncher struct {
	active  map[string]int
	started map[string]int
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{active: map[string]int{}, started: map[string]int{}}
}

func (f *fakeLauncher) ActiveWorkers(_ context.Context, version string) (int, error) {
	return f.active[version], nil
}

func (f *fakeLauncher) StartWorker(_ context.Context, version string, _ int) error {
	f.active[version]++
	f.started[version]++
	return nil
}

func TestReconcileScalesUpToCeiling(t *testing.T) {
	counter := &fakeCounter{counts: map[string]int{"1.0.0": 12}}
	launcher := newFakeLauncher()
	p := New(counter, launcher, "pulse3d", 5)

	require.NoError(t, p.Reconcile(context.Background()))
	require.Equal(t, 5, launcher.started["1.0.0"])

	// nothing changed, second pass is a no-op
	require.NoError(t, p.Reconcile(context.Background()))
	require.Equal(t, 5, launcher.started["1.0.0"])

	// two workers exited; their Jobs still count until the TTL reaps
	// them, so nothing extra starts for the 10 remaining items
	counter.counts["1.0.0"] = 10
	require.NoError(t, p.Reconcile(context.Background()))
	require.Equal(t, 5, launcher.started["1.0.0"])

	// once the TTL reaps the finished Jobs the deficit reopens
	launcher.active["1.0.0"] = 3
	require.NoError(t, p.Reconcile(context.Background()))
	require.Equal(t, 7, launcher.started["1.0.0"])
}

func TestReconcileShortQueueStartsOnePerItem(t *testing.T) {
	counter := &fakeCounter{counts: map[string]int{"1.0.0": 2}}
	launcher := newFakeLauncher()
	p := New(counter, launcher, "pulse3d", 5)

	require.NoError(t, p.Reconcile(context.Background()))
	require.Equal(t, 2, launcher.started["1.0.0"])
}

func TestReconcileNeverScalesDown(t *testing.T) {
	counter := &fakeCounter{counts: map[string]int{"1.0.0": 1}}
	launcher := newFakeLauncher()
	launcher.active["1.0.0"] = 4

	p := New(counter, launcher, "pulse3d", 5)
	require.NoError(t, p.Reconcile(context.Background()))
	require.Equal(t, 0, launcher.started["1.0.0"])
	require.Equal(t, 4, launcher.active["1.0.0"])
}

func TestReconcileHandlesMultipleVersions(t *testing.T) {
	counter := &fakeCounter{counts: map[string]int{"1.0.0": 3, "1.0.1": 8}}
	launcher := newFakeLauncher()
	p := New(counter, launcher, "pulse3d", 5)

	require.NoError(t, p.Reconcile(context.Background()))
	require.Equal(t, 3, launcher.started["1.0.0"])
	require.Equal(t, 5, launcher.started["1.0.1"])
}
