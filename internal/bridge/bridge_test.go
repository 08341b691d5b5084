package bridge

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/botscript/internal/engine"
	"github.com/roach88/botscript/internal/eventloop"
	"github.com/roach88/botscript/internal/notify"
	"github.com/roach88/botscript/internal/testutil"
)

const minimalConfig = `{"username":"a","password":"b","package":"p","server":"s","modules":{}}`

// handler collects strings passed to an AsyncHandler.
type handler struct {
	mu    sync.Mutex
	calls []string
	ch    chan string
}

func newHandler() *handler {
	return &handler{ch: make(chan string, 64)}
}

func (h *handler) Call(msg string) {
	h.mu.Lock()
	h.calls = append(h.calls, msg)
	h.mu.Unlock()
	h.ch <- msg
}

func (h *handler) next(t *testing.T) string {
	t.Helper()
	select {
	case msg := <-h.ch:
		return msg
	case <-time.After(testutil.DefaultWait):
		require.FailNow(t, "handler not called")
		return ""
	}
}

func (h *handler) all() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

type memorySaver struct {
	mu    sync.Mutex
	blobs map[string]string
}

func (s *memorySaver) SaveConfiguration(_ context.Context, identifier, blob string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.blobs == nil {
		s.blobs = make(map[string]string)
	}
	s.blobs[identifier] = blob
	return nil
}

func (s *memorySaver) get(identifier string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blobs[identifier]
}

func newBridge(t *testing.T, opts ...Option) *Bridge {
	t.Helper()
	loop := eventloop.New()
	errc := make(chan error, 1)
	go func() { errc <- loop.Start(context.Background()) }()
	t.Cleanup(func() {
		loop.Stop()
		<-errc
	})

	base := []Option{
		WithEngineOptions(
			engine.WithAuthenticator(testutil.NewScriptedAuthenticator()),
			engine.WithTimeUnit(time.Millisecond),
		),
		WithShutdownTimeout(testutil.DefaultWait),
	}
	return New(loop, append(base, opts...)...)
}

func TestBridge_LoadScenario(t *testing.T) {
	b := newBridge(t)
	notes := newHandler()
	h := b.Construct(notes)

	done := newHandler()
	b.Load(h, minimalConfig, done)
	assert.Equal(t, "", done.next(t))
	assert.Len(t, done.all(), 1)

	assert.NotEmpty(t, b.Identifier(h))
	assert.Equal(t, "a", b.Username(h))
	assert.Equal(t, "p", b.Package(h))
	assert.Equal(t, "s", b.Server(h))
	assert.Equal(t, CreateIdentifier("a", "p", "s"), b.Identifier(h))

	status, err := b.Status(h)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusActive, status)

	require.NoError(t, b.Execute(h, "base_set_wait_time_factor", "2.0"))
	assert.Contains(t, b.Configuration(h, false), `"wait_time_factor":"2.0"`)

	require.NoError(t, b.Shutdown(h))
	require.NoError(t, b.Shutdown(h))

	msgs := notes.all()
	assert.Equal(t, "|state|Loading", msgs[0])
	assert.Equal(t, "|state|Terminated", msgs[len(msgs)-1])
	assert.Contains(t, msgs, "|status|base_wait_time_factor=2.0")
}

func TestBridge_LoadFailure(t *testing.T) {
	b := newBridge(t)
	h := b.Construct(nil)

	done := newHandler()
	b.Load(h, `{"username":"a"}`, done)
	msg := done.next(t)
	assert.True(t, strings.HasPrefix(msg, "ConfigValidationError: "), msg)

	status, _ := b.Status(h)
	assert.Equal(t, engine.StatusCreated, status)
}

func TestBridge_UnknownHandle(t *testing.T) {
	b := newBridge(t)
	const bogus Handle = 99

	done := newHandler()
	b.Load(bogus, minimalConfig, done)
	assert.Equal(t, "LifecycleViolation: unknown handle 99", done.next(t))

	err := b.Execute(bogus, "base_set_proxy", "")
	assert.True(t, engine.IsKind(err, engine.KindLifecycleViolation))
	assert.True(t, engine.IsKind(b.Shutdown(bogus), engine.KindLifecycleViolation))
	assert.True(t, engine.IsKind(b.Release(bogus), engine.KindLifecycleViolation))
	_, err = b.Status(bogus)
	assert.True(t, engine.IsKind(err, engine.KindLifecycleViolation))

	assert.Equal(t, "", b.Identifier(bogus))
	assert.Equal(t, "", b.Username(bogus))
	assert.Equal(t, "", b.Package(bogus))
	assert.Equal(t, "", b.Server(bogus))
	assert.Equal(t, "", b.Configuration(bogus, true))
}

func TestBridge_DuplicateBot(t *testing.T) {
	b := newBridge(t)
	first, second := b.Construct(nil), b.Construct(nil)

	require.NoError(t, b.LoadWait(context.Background(), first, minimalConfig))

	err := b.LoadWait(context.Background(), second, minimalConfig)
	assert.EqualError(t, err, "LifecycleViolation: bot already registered: p_s_a")

	require.NoError(t, b.Shutdown(first))
	require.NoError(t, b.LoadWait(context.Background(), second, minimalConfig))
}

func TestBridge_Release(t *testing.T) {
	b := newBridge(t)
	h := b.Construct(nil)
	require.NoError(t, b.LoadWait(context.Background(), h, minimalConfig))

	assert.True(t, engine.IsKind(b.Release(h), engine.KindLifecycleViolation))
	require.NoError(t, b.Shutdown(h))
	require.NoError(t, b.Release(h))

	assert.Empty(t, b.Handles())
	assert.Equal(t, "", b.Identifier(h))
}

func TestBridge_Handles(t *testing.T) {
	b := newBridge(t)
	h1, h2 := b.Construct(nil), b.Construct(nil)

	assert.Equal(t, []Handle{h1, h2}, b.Handles())
	assert.NotEqual(t, h1, h2)
}

func TestBridge_Tee(t *testing.T) {
	tee := testutil.NewRecorder()
	b := newBridge(t, WithTee(tee))
	h := b.Construct(nil)

	require.NoError(t, b.LoadWait(context.Background(), h, minimalConfig))
	tee.WaitForEncoded(t, "|state|Active")

	r := tee.WaitFor(t, func(r notify.Record) bool { return r.Payload == "Active" })
	assert.Equal(t, "p_s_a", r.Source)
}

func TestBridge_ConfigSaver(t *testing.T) {
	saver := &memorySaver{}
	b := newBridge(t, WithConfigSaver(saver))
	h := b.Construct(nil)

	require.NoError(t, b.LoadWait(context.Background(), h, minimalConfig))
	assert.Equal(t, b.Configuration(h, false), saver.get("p_s_a"))
	assert.NotContains(t, saver.get("p_s_a"), "password")

	require.NoError(t, b.Execute(h, "base_set_proxy", "127.0.0.1:3128"))
	require.NoError(t, b.Shutdown(h))
	assert.Contains(t, saver.get("p_s_a"), "127.0.0.1:3128")
}

func TestBridge_ShutdownTimeout(t *testing.T) {
	// A loop that never runs leaves the finalization queued.
	b := New(eventloop.New(),
		WithEngineOptions(engine.WithAuthenticator(testutil.NewBlockingAuthenticator())),
		WithShutdownTimeout(20*time.Millisecond),
	)
	h := b.Construct(nil)

	done := newHandler()
	b.Load(h, minimalConfig, done)

	err := b.Shutdown(h)
	require.Error(t, err)
	assert.True(t, engine.IsKind(err, engine.KindEngineFault))
}

func TestBridge_Close(t *testing.T) {
	b := newBridge(t)
	for range 3 {
		h := b.Construct(nil)
		b.Load(h, `{"username":"u`+string(rune('a'+h))+`","password":"b","package":"p","server":"s","modules":{}}`, nil)
	}

	require.Eventually(t, func() bool {
		for _, h := range b.Handles() {
			if s, _ := b.Status(h); s != engine.StatusActive {
				return false
			}
		}
		return true
	}, testutil.DefaultWait, time.Millisecond)

	require.NoError(t, b.Close())
	assert.Empty(t, b.Handles())
}

func TestBridge_LoadPackages(t *testing.T) {
	b := newBridge(t)
	names := b.LoadPackages("nonexistent/path")
	assert.NotNil(t, names)
	assert.Empty(t, names)
}

func TestErrorString(t *testing.T) {
	assert.Equal(t, "", ErrorString(nil))
	assert.Equal(t, "InvalidValue: bad", ErrorString(&engine.Error{Kind: engine.KindInvalidValue, Message: "bad"}))
	assert.Equal(t, "EngineFault: plain", ErrorString(errors.New("plain")))
}
