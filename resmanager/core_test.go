package resmanager

import (
	"bytes"
	"context"
	"engine/loadqueue"
	"engine/types"
	"engine/vfs"
	"errors"
	"fmt"
	"github.com/rs/zerolog"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"
)

type fakeTexture struct {
	Data []byte
}

type closerPayload struct {
	closed int32
}

func (cp *closerPayload) Close() error {
	atomic.AddInt32(&cp.closed, 1)
	return nil
}

// Accepts anything starting with "TEX".
func textureCtor(r io.Reader, name string) (interface{}, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	if !bytes.HasPrefix(data, []byte("TEX")) {
		return nil, types.NewParseError("bad header in %s", name)
	}

	return &fakeTexture{Data: data}, nil
}

func rawCtor(r io.Reader, name string) (interface{}, error) {
	return io.ReadAll(r)
}

func testFiles() fstest.MapFS {
	files := fstest.MapFS{
		"materials/wall.tex": {Data: []byte("TEX wall")},
		"materials/bad.tex":  {Data: []byte("nope")},
		"sounds/a.raw":       {Data: []byte("0123456789")},
		"sounds/small.raw":   {Data: []byte("0123")},
		"sounds/four.raw":    {Data: []byte("abcd")},
	}

	for i := 0; i < 6; i++ {
		files[fmt.Sprintf("filler/%d.raw", i)] = &fstest.MapFile{Data: []byte("x")}
	}

	return files
}

func testManager(t *testing.T, opts Options) *Manager {
	t.Helper()

	l := zerolog.New(os.Stdout).With().Timestamp().Logger()

	v := vfs.New(&l)
	if err := v.AddMount(vfs.NewFSMount("test", testFiles())); err != nil {
		t.Fatalf("AddMount: %s", err)
	}

	m, err := NewWithFS(v, opts, &l, context.Background())
	if err != nil {
		t.Fatalf("NewWithFS: %s", err)
	}

	if err := m.Register("texture", textureCtor); err != nil {
		t.Fatalf("Register: %s", err)
	}

	if err := m.Register("raw", rawCtor); err != nil {
		t.Fatalf("Register: %s", err)
	}

	t.Cleanup(func() { m.Shutdown(context.Background()) })

	return m
}

func await(t *testing.T, m *Manager, id types.ResourceID) (interface{}, error) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	v, err := m.Await(ctx, id)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Await(%d) timed out", id)
	}

	return v, err
}

func reason(err error) string {
	var le *types.LoadError
	if errors.As(err, &le) {
		return le.Reason
	}

	return ""
}

// func TestScenario {{{

func TestScenario(t *testing.T) {
	m := testManager(t, Options{})

	for i := 0; i < 6; i++ {
		if _, err := m.Request(fmt.Sprintf("filler/%d.raw", i), "raw"); err != nil {
			t.Fatalf("Request: %s", err)
		}
	}

	wall, err := m.Request("materials/wall.tex", "texture")
	if err != nil || wall != 7 {
		t.Fatalf("Expected id 7 != Got %d (%v)", wall, err)
	}

	again, _ := m.Request("materials/wall.tex", "texture")
	if again != 7 {
		t.Fatalf("Expected id 7 again != Got %d", again)
	}

	// Nothing runs before Initialize().
	if st, _ := m.StatusOf(wall); st != types.StatusPending {
		t.Fatalf("Expected pending != Got %s", st)
	}

	missing, _ := m.Request("missing/file.tex", "texture")
	if missing != 8 {
		t.Fatalf("Expected id 8 != Got %d", missing)
	}

	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize: %s", err)
	}

	v, err := await(t, m, wall)
	if err != nil {
		t.Fatalf("Await wall: %s", err)
	}

	tex, ok := v.(*fakeTexture)
	if !ok || string(tex.Data) != "TEX wall" {
		t.Fatalf("Unexpected payload %#v", v)
	}

	if !m.IsLoaded(wall) || !m.IsFileAlreadyLoaded("materials/wall.tex") {
		t.Fatal("wall.tex not loaded")
	}

	_, err = await(t, m, missing)
	if !errors.Is(err, types.ErrLoadFailed) || reason(err) != types.ReasonFileNotFound {
		t.Fatalf("Expected FileNotFound != Got %v", err)
	}

	if st, _ := m.StatusOf(missing); st != types.StatusFailed {
		t.Fatalf("Expected failed != Got %s", st)
	}

	// No retry, the failed filename keeps its id.
	if id, _ := m.Request("missing/file.tex", "texture"); id != missing {
		t.Fatalf("Expected id %d != Got %d", missing, id)
	}
} // }}}

// func TestConcurrentDedup {{{

func TestConcurrentDedup(t *testing.T) {
	m := testManager(t, Options{})

	var wg sync.WaitGroup
	ids := make([]types.ResourceID, 32)

	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			// Differently spelled, same file.
			name := "materials/wall.tex"
			if i%2 == 1 {
				name = "/materials//wall.tex"
			}

			id, err := m.Request(name, "texture")
			if err != nil {
				t.Errorf("Request: %s", err)
			}
			ids[i] = id
		}(i)
	}

	wg.Wait()

	for i, id := range ids {
		if id != ids[0] {
			t.Fatalf("ids[%d] = %d != %d", i, id, ids[0])
		}
	}

	if st := m.Stats(); st.Queued != 1 || st.Pending != 1 {
		t.Fatalf("Expected one queued load, Got %#v", st)
	}
} // }}}

// func TestStatusSequence {{{

func TestStatusSequence(t *testing.T) {
	m := testManager(t, Options{})

	started := make(chan struct{})
	gate := make(chan struct{})

	m.Register("slow", func(r io.Reader, name string) (interface{}, error) {
		close(started)
		<-gate
		return rawCtor(r, name)
	})

	id, _ := m.Request("sounds/a.raw", "slow")

	if _, err := m.Fetch(id); !errors.Is(err, types.ErrNotReady) {
		t.Fatalf("pending: Expected ErrNotReady != Got %v", err)
	}

	m.Initialize()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("load never started")
	}

	if st, _ := m.StatusOf(id); st != types.StatusLoading {
		t.Fatalf("Expected loading != Got %s", st)
	}

	if _, err := m.Fetch(id); !errors.Is(err, types.ErrNotReady) {
		t.Fatalf("loading: Expected ErrNotReady != Got %v", err)
	}

	close(gate)

	first, err := await(t, m, id)
	if err != nil {
		t.Fatalf("Await: %s", err)
	}

	for i := 0; i < 3; i++ {
		v, err := m.Fetch(id)
		if err != nil {
			t.Fatalf("Fetch: %s", err)
		}

		// Same slice, not a copy.
		if &v.([]byte)[0] != &first.([]byte)[0] {
			t.Fatalf("Fetch %d returned a different object", i)
		}
	}

	if _, err := m.StatusOf(999); !errors.Is(err, types.ErrUnknownID) {
		t.Fatalf("Expected ErrUnknownID != Got %v", err)
	}
} // }}}

// func TestManyAwaiters {{{

func TestManyAwaiters(t *testing.T) {
	m := testManager(t, Options{})

	id, _ := m.Request("materials/wall.tex", "texture")

	const waiters = 16

	var wg sync.WaitGroup
	got := make([]interface{}, waiters)

	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			v, err := await(t, m, id)
			if err != nil {
				t.Errorf("Await: %s", err)
			}
			got[i] = v
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	m.Initialize()
	wg.Wait()

	for i := range got {
		if got[i] == nil || got[i] != got[0] {
			t.Fatalf("waiter %d got %#v", i, got[i])
		}
	}
} // }}}

// func TestFailures {{{

func TestFailures(t *testing.T) {
	m := testManager(t, Options{Workers: 2, MaxSize: 4})

	var panics int32

	m.Register("panic", func(r io.Reader, name string) (interface{}, error) {
		atomic.AddInt32(&panics, 1)
		panic("boom")
	})

	tests := []struct {
		File   string
		Type   types.TypeTag
		Reason string
	}{
		{"materials/bad.tex", "texture", types.ReasonParseError},
		{"sounds/a.raw", "raw", types.ReasonFileUnreadable},
		{"sounds/small.raw", "panic", types.ReasonParseError},
		{"../outside.raw", "raw", types.ReasonFileNotFound},
		{"", "raw", types.ReasonFileNotFound},
		{"/", "raw", types.ReasonFileNotFound},
		{"materials", "raw", types.ReasonFileUnreadable},
	}

	ids := make([]types.ResourceID, len(tests))
	for i, test := range tests {
		var err error
		if ids[i], err = m.Request(test.File, test.Type); err != nil {
			t.Fatalf("Request %s: %s", test.File, err)
		}
	}

	m.Initialize()

	for i, test := range tests {
		_, err := await(t, m, ids[i])

		var le *types.LoadError
		if !errors.As(err, &le) {
			t.Fatalf("%s: Expected a LoadError != Got %v", test.File, err)
		}

		if le.Kind() != test.Reason {
			t.Fatalf("%s: Expected %s != Got %s", test.File, test.Reason, le.Reason)
		}
	}

	if panics != 1 {
		t.Fatalf("Expected 1 panic != Got %d", panics)
	}

	// Exactly maxsize is fine, and the workers survived the panic.
	v, err := m.Load(context.Background(), "sounds/four.raw", "raw")
	if err != nil || string(v.([]byte)) != "abcd" {
		t.Fatalf("Load after failures: %v %v", v, err)
	}

	if _, err := m.Load(context.Background(), "sounds/small.raw", "raw"); err == nil {
		// Already registered with the panic type, so this is the failed panic load.
		t.Fatal("Expected the earlier failure")
	}

	if _, err := m.Request("sounds/a.raw", "nosuchtype"); !errors.Is(err, types.ErrUnknownType) {
		t.Fatalf("Expected ErrUnknownType != Got %v", err)
	}
} // }}}

// func TestCancel {{{

func TestCancel(t *testing.T) {
	m := testManager(t, Options{})

	id, _ := m.Request("materials/wall.tex", "texture")

	st, err := m.Cancel(id)
	if err != nil || st != types.StatusCancelled {
		t.Fatalf("Cancel: %s %v", st, err)
	}

	m.Initialize()

	if _, err := await(t, m, id); !errors.Is(err, types.ErrCancelled) {
		t.Fatalf("Expected ErrCancelled != Got %v", err)
	}

	// Let the worker get past the cancelled item.
	m.Load(context.Background(), "filler/0.raw", "raw")

	if opens := m.Stats().Opens; opens != 1 {
		t.Fatalf("Expected 1 open != Got %d", opens)
	}

	// Finished loads can not be cancelled.
	id2, _ := m.Request("filler/0.raw", "raw")
	if st, _ := m.Cancel(id2); st != types.StatusSucceeded {
		t.Fatalf("Expected succeeded != Got %s", st)
	}
} // }}}

// func TestUnload {{{

func TestUnload(t *testing.T) {
	m := testManager(t, Options{})

	cp := &closerPayload{}
	m.Register("closer", func(r io.Reader, name string) (interface{}, error) {
		return cp, nil
	})

	id, _ := m.Request("sounds/a.raw", "closer")

	if err := m.Unload(id); !errors.Is(err, types.ErrNotTerminal) {
		t.Fatalf("Expected ErrNotTerminal != Got %v", err)
	}

	m.Initialize()
	await(t, m, id)

	if err := m.Unload(id); err != nil {
		t.Fatalf("Unload: %s", err)
	}

	if cp.closed != 1 {
		t.Fatalf("Expected payload closed once != Got %d", cp.closed)
	}

	if m.IsFileAlreadyLoaded("sounds/a.raw") {
		t.Fatal("still loaded after Unload")
	}

	if _, err := m.Fetch(id); !errors.Is(err, types.ErrUnknownID) {
		t.Fatalf("Expected ErrUnknownID != Got %v", err)
	}

	nid, _ := m.Request("sounds/a.raw", "raw")
	if nid <= id {
		t.Fatalf("Expected a new id above %d != Got %d", id, nid)
	}

	if err := m.Unload(id); !errors.Is(err, types.ErrUnknownID) {
		t.Fatalf("Expected ErrUnknownID != Got %v", err)
	}
} // }}}

// func TestTyped {{{

func TestTyped(t *testing.T) {
	m := testManager(t, Options{})
	m.Initialize()

	id, _ := m.Request("materials/wall.tex", "texture")

	tex, err := AwaitAs[*fakeTexture](context.Background(), m, id)
	if err != nil || string(tex.Data) != "TEX wall" {
		t.Fatalf("AwaitAs: %v %v", tex, err)
	}

	if _, err := FetchAs[[]byte](m, id); !errors.Is(err, types.ErrWrongType) {
		t.Fatalf("Expected ErrWrongType != Got %v", err)
	}

	if got, err := FetchAs[*fakeTexture](m, id); err != nil || got != tex {
		t.Fatalf("FetchAs: %v %v", got, err)
	}
} // }}}

// func TestResources {{{

func TestResources(t *testing.T) {
	m := testManager(t, Options{})
	m.Initialize()

	m.Load(context.Background(), "materials/wall.tex", "texture")
	m.Load(context.Background(), "materials/missing.tex", "texture")
	m.Load(context.Background(), "sounds/small.raw", "raw")

	got := m.Resources("materials/")
	if len(got) != 2 {
		t.Fatalf("Expected 2 resources != Got %#v", got)
	}

	if got[0].Filename != "materials/missing.tex" || got[0].Reason != types.ReasonFileNotFound {
		t.Fatalf("Unexpected %#v", got[0])
	}

	if got[1].Filename != "materials/wall.tex" || got[1].Status != types.StatusSucceeded {
		t.Fatalf("Unexpected %#v", got[1])
	}

	st := m.Stats()
	if st.Succeeded != 2 || st.Failed != 1 || st.Workers != 1 {
		t.Fatalf("Stats: %#v", st)
	}
} // }}}

// func TestShutdown {{{

func TestShutdown(t *testing.T) {
	m := testManager(t, Options{Workers: 3})

	var ids []types.ResourceID
	for i := 0; i < 6; i++ {
		id, _ := m.Request(fmt.Sprintf("filler/%d.raw", i), "raw")
		ids = append(ids, id)
	}

	m.Initialize()

	// Queued work is finished, not dropped.
	results := make(chan error, len(ids))
	for _, id := range ids {
		go func(id types.ResourceID) {
			_, err := m.Await(context.Background(), id)
			results <- err
		}(id)
	}

	time.Sleep(20 * time.Millisecond)

	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %s", err)
	}

	for range ids {
		if err := <-results; err != nil {
			t.Fatalf("Await: %s", err)
		}
	}

	if _, err := m.Request("materials/wall.tex", "texture"); !errors.Is(err, types.ErrShutdown) {
		t.Fatalf("Expected ErrShutdown != Got %v", err)
	}

	if err := m.Initialize(); !errors.Is(err, types.ErrShutdown) {
		t.Fatalf("Expected ErrShutdown != Got %v", err)
	}

	if err := m.Register("x", rawCtor); !errors.Is(err, types.ErrShutdown) {
		t.Fatalf("Expected ErrShutdown != Got %v", err)
	}

	// Again, just returns.
	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %s", err)
	}
} // }}}

// func TestShutdownNotStarted {{{

func TestShutdownNotStarted(t *testing.T) {
	m := testManager(t, Options{})

	id, _ := m.Request("materials/wall.tex", "texture")

	result := make(chan error, 1)
	go func() {
		_, err := m.Await(context.Background(), id)
		result <- err
	}()

	time.Sleep(20 * time.Millisecond)
	m.Shutdown(context.Background())

	if err := <-result; reason(err) != types.ReasonShutdownInProgress {
		t.Fatalf("Expected ShutdownInProgress != Got %v", err)
	}
} // }}}

// func TestShutdownTimeout {{{

func TestShutdownTimeout(t *testing.T) {
	m := testManager(t, Options{})

	started := make(chan struct{})
	gate := make(chan struct{})

	m.Register("slow", func(r io.Reader, name string) (interface{}, error) {
		close(started)
		<-gate
		return "slow", nil
	})

	m.Request("sounds/a.raw", "slow")
	queued, _ := m.Request("materials/wall.tex", "texture")

	m.Initialize()
	<-started

	result := make(chan error, 1)
	go func() {
		_, err := m.Await(context.Background(), queued)
		result <- err
	}()

	var released int32

	go func() {
		time.Sleep(100 * time.Millisecond)
		atomic.StoreInt32(&released, 1)
		close(gate)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	m.Shutdown(ctx)

	// The running load was waited for.
	if atomic.LoadInt32(&released) != 1 {
		t.Fatal("Shutdown returned while a worker was still running")
	}

	if err := <-result; reason(err) != types.ReasonShutdownInProgress {
		t.Fatalf("Expected ShutdownInProgress != Got %v", err)
	}
} // }}}

// func TestParentContext {{{

func TestParentContext(t *testing.T) {
	l := zerolog.New(os.Stdout).With().Timestamp().Logger()
	ctx, cancel := context.WithCancel(context.Background())

	m, err := NewWithFS(vfs.New(&l), Options{}, &l, ctx)
	if err != nil {
		t.Fatal(err)
	}

	m.Register("raw", rawCtor)
	m.Initialize()

	cancel()

	select {
	case <-m.bye:
	case <-time.After(5 * time.Second):
		t.Fatal("no shutdown after the context ended")
	}

	if _, err := m.Request("a.raw", "raw"); !errors.Is(err, types.ErrShutdown) {
		t.Fatalf("Expected ErrShutdown != Got %v", err)
	}
} // }}}

// func TestNewFromConf {{{

func TestNewFromConf(t *testing.T) {
	l := zerolog.New(os.Stdout).With().Timestamp().Logger()

	data := t.TempDir()
	if err := os.MkdirAll(filepath.Join(data, "materials"), 0755); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(data, "materials", "wall.tex"), []byte("TEX disk"), 0644); err != nil {
		t.Fatal(err)
	}

	confFile := filepath.Join(t.TempDir(), "resources.yaml")
	yml := strings.Join([]string{
		"workers: 2",
		"order: LIFO",
		"maxsize: 1KiB",
		"searchpaths:",
		"  - " + data,
	}, "\n") + "\n"

	if err := os.WriteFile(confFile, []byte(yml), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := New(confFile, &l, context.Background())
	if err != nil {
		t.Fatalf("New: %s", err)
	}
	defer m.Shutdown(context.Background())

	if m.q.Order() != loadqueue.LIFO {
		t.Fatal("Expected LIFO")
	}

	if size := m.getConf().MaxSize; size != 1024 {
		t.Fatalf("Expected maxsize 1024 != Got %d", size)
	}

	m.Register("texture", textureCtor)

	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize: %s", err)
	}

	// Twice is fine.
	if err := m.Initialize(); err != nil {
		t.Fatalf("second Initialize: %s", err)
	}

	v, err := m.Load(context.Background(), "materials/wall.tex", "texture")
	if err != nil {
		t.Fatalf("Load: %s", err)
	}

	if string(v.(*fakeTexture).Data) != "TEX disk" {
		t.Fatalf("Unexpected payload %#v", v)
	}

	if st := m.Stats(); st.Workers != 2 || st.Opens != 1 {
		t.Fatalf("Stats: %#v", st)
	}
} // }}}
