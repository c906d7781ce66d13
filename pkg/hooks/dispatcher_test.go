package hooks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s3rius/rustus/pkg/config"
	"github.com/s3rius/rustus/pkg/types"
)

type fakeNotifier struct {
	name     string
	blocking bool
	err      error

	mu    sync.Mutex
	calls []Hook
	wg    *sync.WaitGroup
}

func (f *fakeNotifier) Name() string                      { return f.name }
func (f *fakeNotifier) Blocking() bool                    { return f.blocking }
func (f *fakeNotifier) Prepare(ctx context.Context) error { return nil }
func (f *fakeNotifier) Close() error                      { return nil }

func (f *fakeNotifier) Send(ctx context.Context, event *Event) error {
	f.mu.Lock()
	f.calls = append(f.calls, event.Hook)
	f.mu.Unlock()
	if f.wg != nil {
		f.wg.Done()
	}
	return f.err
}

func (f *fakeNotifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestDispatcher_BlockingFailureVetoes(t *testing.T) {
	t.Parallel()

	rejecting := &fakeNotifier{name: "http", blocking: true, err: errors.New("denied")}
	d := NewTestDispatcher(FormatDefault, rejecting)

	err := d.Dispatch(context.Background(), PreCreate, testSnapshot())
	require.Error(t, err)

	var hookErr *types.HookError
	require.True(t, errors.As(err, &hookErr))
	assert.Equal(t, "pre-create", hookErr.Hook)
}

func TestDispatcher_NonBlockingFailureIsSwallowed(t *testing.T) {
	t.Parallel()

	var wg sync.WaitGroup
	wg.Add(1)
	broker := &fakeNotifier{name: "kafka", blocking: false, err: errors.New("broker down"), wg: &wg}
	d := NewTestDispatcher(FormatDefault, broker)

	err := d.Dispatch(context.Background(), PostFinish, testSnapshot())
	require.NoError(t, err)
	wg.Wait()
	assert.Equal(t, 1, broker.callCount())
}

func TestDispatcher_AllNotifiersReceiveEvent(t *testing.T) {
	t.Parallel()

	var wg sync.WaitGroup
	wg.Add(1)
	blocking := &fakeNotifier{name: "file", blocking: true}
	broker := &fakeNotifier{name: "nats", blocking: false, wg: &wg}
	d := NewTestDispatcher(FormatDefault, blocking, broker)

	require.NoError(t, d.Dispatch(context.Background(), PostCreate, testSnapshot()))
	wg.Wait()
	assert.Equal(t, 1, blocking.callCount())
	assert.Equal(t, 1, broker.callCount())
}

type slowNotifier struct {
	fakeNotifier
	cancelled atomic.Bool
}

func (s *slowNotifier) Send(ctx context.Context, event *Event) error {
	select {
	case <-ctx.Done():
		s.cancelled.Store(true)
		return ctx.Err()
	case <-time.After(5 * time.Second):
		return nil
	}
}

func TestDispatcher_FirstBlockingFailureCancelsRemainder(t *testing.T) {
	t.Parallel()

	failing := &fakeNotifier{name: "http", blocking: true, err: errors.New("denied")}
	slow := &slowNotifier{fakeNotifier: fakeNotifier{name: "dir", blocking: true}}
	d := NewTestDispatcher(FormatDefault, failing, slow)

	start := time.Now()
	err := d.Dispatch(context.Background(), PreTerminate, testSnapshot())
	require.Error(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.True(t, slow.cancelled.Load())
}

func TestDispatcher_InactiveHookIsSkipped(t *testing.T) {
	t.Parallel()

	notifier := &fakeNotifier{name: "file", blocking: true}
	d, err := NewDispatcher(config.HooksConfig{
		Events: []string{"pre-create"},
		File:   "/bin/true",
	})
	require.NoError(t, err)
	d.notifiers = []Notifier{notifier}

	assert.True(t, d.Active(PreCreate))
	assert.False(t, d.Active(PostFinish))

	require.NoError(t, d.Dispatch(context.Background(), PostFinish, testSnapshot()))
	assert.Zero(t, notifier.callCount())
}

func TestDispatcher_NoNotifiers(t *testing.T) {
	t.Parallel()

	d, err := NewDispatcher(config.HooksConfig{})
	require.NoError(t, err)
	assert.False(t, d.Active(PreCreate))
	require.NoError(t, d.Dispatch(context.Background(), PreCreate, testSnapshot()))
}

func TestNewDispatcher_UnknownEvent(t *testing.T) {
	t.Parallel()

	_, err := NewDispatcher(config.HooksConfig{Events: []string{"mid-create"}})
	require.Error(t, err)
}

func TestNewDispatcher_UnknownFormat(t *testing.T) {
	t.Parallel()

	_, err := NewDispatcher(config.HooksConfig{Format: "yaml"})
	require.Error(t, err)
}
