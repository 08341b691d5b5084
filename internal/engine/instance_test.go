package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/botscript/internal/eventloop"
	"github.com/roach88/botscript/internal/notify"
	"github.com/roach88/botscript/internal/pkgloader"
	"github.com/roach88/botscript/internal/testutil"
)

const minimalConfig = `{"username":"a","password":"b","package":"p","server":"s","modules":{}}`

// startLoop runs an event loop for the duration of the test.
func startLoop(t *testing.T) *eventloop.Loop {
	t.Helper()
	loop := eventloop.New()
	errc := make(chan error, 1)
	go func() { errc <- loop.Start(context.Background()) }()
	t.Cleanup(func() {
		loop.Stop()
		<-errc
	})
	return loop
}

func newInstance(t *testing.T, opts ...Option) (*Instance, *testutil.Recorder) {
	t.Helper()
	rec := testutil.NewRecorder()
	base := []Option{
		WithAuthenticator(testutil.NewScriptedAuthenticator()),
		WithSessionGenerator(testutil.NewFixedSessionGenerator("session-1")),
		WithClock(testutil.NewSteppingClock(testutil.Epoch, time.Second).Now),
		WithTimeUnit(time.Millisecond),
	}
	inst := New(startLoop(t), rec, append(base, opts...)...)
	return inst, rec
}

func load(t *testing.T, inst *Instance, cfg string) error {
	t.Helper()
	select {
	case err := <-inst.Load([]byte(cfg)):
		return err
	case <-time.After(testutil.DefaultWait):
		require.FailNow(t, "load did not complete")
		return nil
	}
}

func shutdown(t *testing.T, inst *Instance) {
	t.Helper()
	inst.Shutdown()
	select {
	case <-inst.Done():
	case <-time.After(testutil.DefaultWait):
		require.FailNow(t, "shutdown did not complete")
	}
}

// nonLog drops log lines, whose timestamps vary with scheduling.
func nonLog(encoded []string) []string {
	var out []string
	for _, e := range encoded {
		if !strings.HasPrefix(e, "|log|") {
			out = append(out, e)
		}
	}
	return out
}

func TestInstance_LoadMinimal(t *testing.T) {
	inst, rec := newInstance(t)
	assert.Equal(t, StatusCreated, inst.Status())

	require.NoError(t, load(t, inst, minimalConfig))

	assert.Equal(t, StatusActive, inst.Status())
	assert.NotEmpty(t, inst.Identifier())
	assert.Equal(t, "p_s_a", inst.Identifier())
	assert.Equal(t, "a", inst.Username())
	assert.Equal(t, "p", inst.Package())
	assert.Equal(t, "s", inst.Server())
	assert.Equal(t, "session-1", inst.Session())
	assert.Equal(t, []string{"base"}, inst.Modules())

	shutdown(t, inst)

	assert.Equal(t, []string{
		"|state|Loading",
		"|state|Active",
		"|status|base_wait_time_factor=1",
		"|status|base_proxy=",
		"|state|ShuttingDown",
		"|state|Terminated",
	}, nonLog(rec.Encoded()))

	logs := rec.Category(notify.CategoryLog)
	require.Len(t, logs, 1)
	assert.Contains(t, logs[0], "[INFO ][")
	assert.Contains(t, logs[0], "][p_s_a][base] login: 1. try")

	// Accessors keep their last value after termination.
	assert.Equal(t, StatusTerminated, inst.Status())
	assert.Equal(t, "a", inst.Username())
	assert.Contains(t, inst.Configuration(false), `"username":"a"`)
}

func TestInstance_NotificationsCarrySource(t *testing.T) {
	inst, rec := newInstance(t)
	require.NoError(t, load(t, inst, minimalConfig))
	shutdown(t, inst)

	records := rec.Records()
	require.NotEmpty(t, records)
	for i, r := range records {
		assert.Equal(t, int64(i+1), r.Seq)
	}
	assert.Equal(t, "p_s_a", records[len(records)-1].Source)
}

func TestInstance_ExecuteSetsValue(t *testing.T) {
	inst, rec := newInstance(t)
	require.NoError(t, load(t, inst, minimalConfig))

	before, _ := inst.Get("base", "proxy")
	require.NoError(t, inst.Execute("base_set_wait_time_factor", "2.0"))

	v, ok := inst.Get("base", "wait_time_factor")
	assert.True(t, ok)
	assert.Equal(t, "2.0", v)

	after, _ := inst.Get("base", "proxy")
	assert.Equal(t, before, after, "other keys unchanged")

	rec.WaitForEncoded(t, "|status|base_wait_time_factor=2.0")
	assert.Contains(t, inst.Configuration(false), `"wait_time_factor":"2.0"`)
}

func TestInstance_ExecuteErrors(t *testing.T) {
	inst, rec := newInstance(t)
	require.NoError(t, load(t, inst, minimalConfig))
	snapshot := inst.Configuration(true)

	tests := []struct {
		cmd  string
		arg  string
		kind Kind
	}{
		{"base", "1", KindMalformedCommand},
		{"base_set", "1", KindMalformedCommand},
		{"", "", KindMalformedCommand},
		{"train_set_active", "1", KindUnknownModule},
		{"base_get_proxy", "", KindUnsupportedAction},
		{"base_set_wait_time_factor", "9", KindInvalidValue},
		{"base_set_wait_time_factor", "fast", KindInvalidValue},
		{"base_set_active", "yes", KindInvalidValue},
	}

	for _, tt := range tests {
		t.Run(tt.cmd+"="+tt.arg, func(t *testing.T) {
			err := inst.Execute(tt.cmd, tt.arg)
			require.Error(t, err)
			assert.True(t, IsKind(err, tt.kind), "got %v", err)
			assert.Equal(t, tt.kind, KindOf(err))
			assert.Equal(t, snapshot, inst.Configuration(true), "configuration unchanged")

			rec.WaitFor(t, func(r notify.Record) bool {
				return r.Category == notify.CategoryCommand &&
					r.Payload == tt.cmd &&
					strings.HasPrefix(r.Err, string(tt.kind)+": ")
			})
		})
	}
}

func TestInstance_ExecuteRequiresActive(t *testing.T) {
	inst, _ := newInstance(t)

	err := inst.Execute("base_set_proxy", "x")
	assert.True(t, IsKind(err, KindLifecycleViolation))

	require.NoError(t, load(t, inst, minimalConfig))
	shutdown(t, inst)

	err = inst.Execute("base_set_proxy", "x")
	assert.True(t, IsKind(err, KindLifecycleViolation))
}

func TestInstance_ExecuteDuringLoading(t *testing.T) {
	auth := testutil.NewBlockingAuthenticator()
	inst, _ := newInstance(t, WithAuthenticator(auth))

	result := inst.Load([]byte(minimalConfig))
	<-auth.Started()
	assert.Equal(t, StatusLoading, inst.Status())

	err := inst.Execute("base_set_proxy", "x")
	assert.True(t, IsKind(err, KindLifecycleViolation))

	inst.Shutdown()
	assert.True(t, IsKind(<-result, KindCancelled))
	<-inst.Done()
	assert.Equal(t, StatusTerminated, inst.Status())
}

func TestInstance_LoadInvalidConfig(t *testing.T) {
	inst, rec := newInstance(t)

	err := load(t, inst, `{"username":"a"}`)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindConfigValidation))
	assert.True(t, strings.HasPrefix(err.Error(), "ConfigValidationError: "))
	assert.Equal(t, StatusCreated, inst.Status())

	// A retry from Created is allowed.
	require.NoError(t, load(t, inst, minimalConfig))
	assert.Equal(t, StatusActive, inst.Status())

	shutdown(t, inst)
	assert.Equal(t, []string{
		"|state|Loading",
		"|state|Created",
		"|state|Loading",
		"|state|Active",
		"|status|base_wait_time_factor=1",
		"|status|base_proxy=",
		"|state|ShuttingDown",
		"|state|Terminated",
	}, nonLog(rec.Encoded()))
}

func TestInstance_LoadTwice(t *testing.T) {
	inst, _ := newInstance(t)
	require.NoError(t, load(t, inst, minimalConfig))

	err := load(t, inst, minimalConfig)
	assert.True(t, IsKind(err, KindLifecycleViolation))
	assert.Equal(t, StatusActive, inst.Status())
}

func TestInstance_LoginRetries(t *testing.T) {
	boom := errors.New("server busy")
	auth := testutil.NewScriptedAuthenticator(boom, boom)
	inst, _ := newInstance(t, WithAuthenticator(auth))

	require.NoError(t, load(t, inst, minimalConfig))
	assert.Len(t, auth.Calls(), 3)
	assert.Equal(t, testutil.LoginCall{Package: "p", Username: "a", Password: "b", Server: "s"}, auth.Calls()[0])

	var tries []string
	for _, line := range inst.LogMessages() {
		if strings.Contains(line, "login: ") {
			tries = append(tries, line[strings.Index(line, "login: "):])
		}
	}
	assert.Equal(t, []string{"login: 1. try", "login: 2. try", "login: 3. try"}, tries)
}

func TestInstance_LoginFails(t *testing.T) {
	boom := errors.New("wrong password")
	auth := testutil.NewScriptedAuthenticator(boom, boom)
	inst, _ := newInstance(t, WithAuthenticator(auth), WithLoginTries(2))

	err := load(t, inst, minimalConfig)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindEngineFault))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StatusCreated, inst.Status())
	assert.Equal(t, "", inst.Configuration(false))
}

func TestInstance_ShutdownIdempotent(t *testing.T) {
	inst, _ := newInstance(t)
	require.NoError(t, load(t, inst, minimalConfig))

	shutdown(t, inst)
	shutdown(t, inst)
	assert.Equal(t, StatusTerminated, inst.Status())

	err := load(t, inst, minimalConfig)
	assert.True(t, IsKind(err, KindLifecycleViolation))
}

func TestInstance_ShutdownFromCreated(t *testing.T) {
	inst, rec := newInstance(t)
	shutdown(t, inst)

	assert.Equal(t, StatusTerminated, inst.Status())
	assert.Equal(t, []string{"|state|ShuttingDown", "|state|Terminated"}, rec.Encoded())
}

func TestInstance_Registry(t *testing.T) {
	reg := NewMemoryRegistry()
	first, _ := newInstance(t, WithRegistry(reg))
	second, _ := newInstance(t, WithRegistry(reg))

	require.NoError(t, load(t, first, minimalConfig))

	err := load(t, second, minimalConfig)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindLifecycleViolation))
	assert.Contains(t, err.Error(), "bot already registered")
	assert.Equal(t, StatusCreated, second.Status())

	shutdown(t, first)
	assert.Equal(t, 0, reg.Len())

	require.NoError(t, load(t, second, minimalConfig))
	assert.Equal(t, 1, reg.Len())
}

func TestInstance_ConfigurationRedacted(t *testing.T) {
	inst, _ := newInstance(t)
	assert.Equal(t, "", inst.Configuration(true))

	require.NoError(t, load(t, inst, `{"username":"a","password":"s3cret","package":"p","server":"s","modules":{}}`))

	assert.NotContains(t, inst.Configuration(false), "s3cret")
	assert.NotContains(t, inst.Configuration(false), `"password"`)
	assert.Contains(t, inst.Configuration(true), `"password":"s3cret"`)
}

func TestInstance_ConfigOnlyModule(t *testing.T) {
	inst, _ := newInstance(t)
	require.NoError(t, load(t, inst, `{"username":"a","password":"b","package":"p","server":"s","modules":{"notes":{"text":"hi"}}}`))

	assert.Equal(t, []string{"base", "notes"}, inst.Modules())
	v, _ := inst.Get("notes", "text")
	assert.Equal(t, "hi", v)
	v, _ = inst.Get("notes", "active")
	assert.Equal(t, "0", v)

	require.NoError(t, inst.Execute("notes_set_anything", "goes"))
	assert.True(t, IsKind(inst.Execute("notes_set_active", "2"), KindInvalidValue))
}

func TestInstance_StatusMasksSecrets(t *testing.T) {
	inst, rec := newInstance(t)
	require.NoError(t, load(t, inst, `{"username":"a","password":"b","package":"p","server":"s","modules":{"notes":{"text":"hi"}}}`))

	require.NoError(t, inst.Execute("notes_set_mail_password", "hunter2"))
	rec.WaitForEncoded(t, "|status|notes_mail_password=***")

	v, _ := inst.Get("notes", "mail_password")
	assert.Equal(t, "hunter2", v, "stored value is not masked")
	for _, e := range rec.Encoded() {
		assert.NotContains(t, e, "hunter2")
	}
	shutdown(t, inst)
}

func TestStatusPayload(t *testing.T) {
	assert.Equal(t, "train_rounds=5", statusPayload("train", "rounds", "5"))
	assert.Equal(t, "mail_Password=***", statusPayload("mail", "Password", "x"))
}

func TestInstance_UnknownPackage(t *testing.T) {
	inst, _ := newInstance(t, WithResolver(pkgloader.NewDirResolver(t.TempDir())))

	err := load(t, inst, minimalConfig)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindConfigValidation))
	assert.ErrorIs(t, err, pkgloader.ErrNotFound)
	assert.Equal(t, StatusCreated, inst.Status())
}

func TestInstance_HandleFault(t *testing.T) {
	inst, rec := newInstance(t)

	inst.HandleFault("run_train", errors.New("kaputt"))
	rec.WaitForEncoded(t, "EngineFault: kaputt|fault|run_train")
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "Created", StatusCreated.String())
	assert.Equal(t, "ShuttingDown", StatusShuttingDown.String())
	assert.Equal(t, "Terminated", StatusTerminated.String())
	assert.Equal(t, "Unknown", Status(42).String())
}

// writePackage creates a package with the given module files below a
// fresh root and returns a resolver for it.
func writePackage(t *testing.T, files map[string]string) pkgloader.Resolver {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "p")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	files[pkgloader.ServersFile] = `servers = {"http://s"}`
	for name, src := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(src), 0o644))
	}
	return pkgloader.NewDirResolver(root)
}

const counterModule = `
interface_train = {
  rounds = {input_type = "slider", display_name = "Rounds", value_range = "1,10"},
}
status_train = {active = "0", rounds = "3", count = "0"}

function run_train()
  local n = tonumber(get_status("count")) + 1
  set_status("count", tostring(n))
  log("run " .. n)
  return nil, 1, 1
end
`

func TestInstance_ModuleRunLoop(t *testing.T) {
	resolver := writePackage(t, map[string]string{"train.lua": counterModule})
	inst, rec := newInstance(t, WithResolver(resolver))

	require.NoError(t, load(t, inst, `{"username":"a","password":"b","package":"p","server":"s","modules":{"train":{"active":"1"}}}`))
	assert.Equal(t, []string{"base", "train"}, inst.Modules())

	rec.WaitForEncoded(t, "|status|train_count=1")
	rec.WaitForEncoded(t, "|status|train_count=2")

	v, _ := inst.Get("train", "rounds")
	assert.Equal(t, "3", v, "default from status table")

	assert.True(t, IsKind(inst.Execute("train_set_rounds", "11"), KindInvalidValue))
	require.NoError(t, inst.Execute("train_set_rounds", "5"))

	require.NoError(t, inst.Execute("train_set_active", "0"))
	require.Eventually(t, func() bool { return inst.RunState("train") == RunOff }, testutil.DefaultWait, time.Millisecond)

	var runs int
	for _, line := range inst.LogMessages() {
		if strings.Contains(line, "[p_s_a][train] run ") {
			runs++
		}
	}
	assert.Positive(t, runs)

	shutdown(t, inst)
}

func TestInstance_GlobalActive(t *testing.T) {
	resolver := writePackage(t, map[string]string{
		"train.lua": counterModule,
		"mail.lua":  `status_mail = {active = "0"} function run_mail() return nil, 1, 1 end`,
	})
	inst, rec := newInstance(t, WithResolver(resolver))
	require.NoError(t, load(t, inst, `{"username":"a","password":"b","package":"p","server":"s","modules":{}}`))

	require.NoError(t, inst.Execute("global_set_active", "1"))
	rec.WaitForEncoded(t, "|status|mail_active=1")
	rec.WaitForEncoded(t, "|status|train_active=1")
	rec.WaitForEncoded(t, "|status|train_count=1")

	require.NoError(t, inst.Execute("global_set_active", "0"))
	require.Eventually(t, func() bool {
		return inst.RunState("train") == RunOff && inst.RunState("mail") == RunOff
	}, testutil.DefaultWait, time.Millisecond)

	v, _ := inst.Get("base", "active")
	assert.Equal(t, "", v, "base is not a global target")

	assert.True(t, IsKind(inst.Execute("global_set_active", "x"), KindInvalidValue))
	assert.True(t, IsKind(inst.Execute("global_get_active", "1"), KindUnsupportedAction))

	shutdown(t, inst)
}

func TestInstance_Inactive(t *testing.T) {
	resolver := writePackage(t, map[string]string{"train.lua": counterModule})
	inst, _ := newInstance(t, WithResolver(resolver))

	require.NoError(t, load(t, inst, `{"username":"a","password":"b","package":"p","server":"s","inactive":true,"modules":{"train":{"active":"1"}}}`))

	v, _ := inst.Get("train", "active")
	assert.Equal(t, "1", v)
	assert.Equal(t, RunOff, inst.RunState("train"))
	assert.Contains(t, inst.Configuration(false), `"inactive":true`)

	shutdown(t, inst)
}

func TestInstance_ModuleFault(t *testing.T) {
	resolver := writePackage(t, map[string]string{
		"boom.lua": `function run_boom() error("kaputt") end`,
	})
	inst, rec := newInstance(t, WithResolver(resolver))
	require.NoError(t, load(t, inst, `{"username":"a","password":"b","package":"p","server":"s","modules":{"boom":{"active":"1"}}}`))

	r := rec.WaitFor(t, func(r notify.Record) bool {
		return r.Category == notify.CategoryFault && r.Payload == "run_boom"
	})
	assert.True(t, strings.HasPrefix(r.Err, "EngineFault: "))
	assert.Contains(t, r.Err, "kaputt")

	// The module keeps running after a fault.
	assert.Equal(t, StatusActive, inst.Status())
	shutdown(t, inst)
}

func TestInstance_ModuleLoadFails(t *testing.T) {
	resolver := writePackage(t, map[string]string{
		"bad.lua": `status_bad = {} error("top level failure")`,
	})
	// Package discovery already rejects the module, so the resolver fails.
	inst, _ := newInstance(t, WithResolver(resolver))

	err := load(t, inst, minimalConfig)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindConfigValidation))
	assert.Equal(t, StatusCreated, inst.Status())
}

func TestInstance_ShutdownStopsRuns(t *testing.T) {
	resolver := writePackage(t, map[string]string{"train.lua": counterModule})
	inst, rec := newInstance(t, WithResolver(resolver))
	require.NoError(t, load(t, inst, `{"username":"a","password":"b","package":"p","server":"s","modules":{"train":{"active":"1"}}}`))
	rec.WaitForEncoded(t, "|status|train_count=1")

	shutdown(t, inst)

	n := len(rec.Records())
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, rec.Records(), n, "no notifications after Terminated")

	v, _ := inst.Get("train", "active")
	assert.Equal(t, "1", v, "configuration keeps its last value")
}
