package loader

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/symgraph/pkg/telemetry"
)

func TestWatcher_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	graphPath := filepath.Join(dir, "graph.yaml")
	otherPath := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(graphPath, []byte("name: a"), 0o644))

	events, err := telemetry.NewEventPublisher(telemetry.EventsConfig{Enabled: true})
	require.NoError(t, err)
	published := make(chan telemetry.Event, 4)
	events.Subscribe(func(e telemetry.Event) { published <- e },
		telemetry.FilterByType(telemetry.EventTypeGraphReloaded))

	reloaded := make(chan string, 4)
	w := NewWatcher(zerolog.Nop(), WithReloadDelay(20*time.Millisecond), WithEvents(events))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Watch(ctx, []string{graphPath}, func(_ context.Context, changed string) (int, error) {
		reloaded <- changed
		return 3, nil
	}))

	require.NoError(t, os.WriteFile(otherPath, []byte("ignored"), 0o644))
	require.NoError(t, os.WriteFile(graphPath, []byte("name: b"), 0o644))

	select {
	case changed := <-reloaded:
		assert.Equal(t, graphPath, changed)
	case <-time.After(5 * time.Second):
		t.Fatal("reload was not triggered")
	}

	select {
	case e := <-published:
		assert.Equal(t, 3, e.Data["nodes"])
	case <-time.After(5 * time.Second):
		t.Fatal("reload event was not published")
	}

	cancel()
	select {
	case <-w.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
	assert.NoError(t, w.Stop())
}

func TestWatcher_MissingPath(t *testing.T) {
	w := NewWatcher(zerolog.Nop())
	err := w.Watch(context.Background(), []string{filepath.Join(t.TempDir(), "missing.yaml")},
		func(context.Context, string) (int, error) { return 0, nil })
	assert.Error(t, err)
}
