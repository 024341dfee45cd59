// Asynchronous resource loading.
//
// Request() hands back an id right away and queues the file, background workers open it
// through the virtual filesystem and run the constructor registered for its type. Callers
// poll with StatusOf()/Fetch() or block with Await().
//
// Lock order is idmanager, then the table or the queue. Configuration reloads take rMut
// before sMut. Nothing else nests.
package resmanager

import (
	"context"
	"engine/idmanager"
	"engine/loadqueue"
	"engine/restable"
	"engine/types"
	"engine/vfs"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"io"
	"sync/atomic"
)

// func New {{{

// Creates a manager configured from confPath, a single file or a directory of them.
//
// The virtual filesystem is built from the configuration when Initialize() is called.
func New(confPath string, l *zerolog.Logger, ctx context.Context) (*Manager, error) {
	m := newManager(l, ctx)
	m.cFile = confPath

	fl := m.l.With().Str("func", "New").Logger()

	if err := m.loadConf(); err != nil {
		return nil, err
	}

	co := m.getConf()

	order, err := parseOrder(co.Order)
	if err != nil {
		fl.Err(err).Send()
		return nil, err
	}

	m.vfs = vfs.New(&m.l)
	m.fs = m.vfs
	m.q = loadqueue.New(order)

	// Start background configuration handling.
	if err := m.yc.Start(); err != nil {
		fl.Err(err).Msg("yc.Start")
	}

	m.watch()

	fl.Debug().Str("conf", confPath).Send()

	return m, nil
} // }}}

// func NewWithFS {{{

// Creates a manager reading from fs, without any configuration files.
//
// If fs is a *vfs.VFS it is closed on Shutdown().
func NewWithFS(fs types.FileSystem, opts Options, l *zerolog.Logger, ctx context.Context) (*Manager, error) {
	if fs == nil {
		return nil, errors.New("Missing filesystem")
	}

	m := newManager(l, ctx)
	m.fs = fs
	m.q = loadqueue.New(opts.Order)

	if v, ok := fs.(*vfs.VFS); ok {
		m.vfs = v
	}

	order := "fifo"
	if opts.Order == loadqueue.LIFO {
		order = "lifo"
	}

	m.co.Store(&conf{
		Workers: opts.Workers,
		Order:   order,
		MaxSize: opts.MaxSize,
	})

	m.watch()

	m.l.Debug().Str("func", "NewWithFS").Int("workers", opts.Workers).Str("order", order).Send()

	return m, nil
} // }}}

func newManager(l *zerolog.Logger, ctx context.Context) *Manager {
	m := &Manager{
		l:     l.With().Str("mod", "resmanager").Str("instance", uuid.NewString()).Logger(),
		ctors: make(map[types.TypeTag]types.Constructor, 8),
		bye:   make(chan struct{}),
		ctx:   ctx,
	}

	m.im = idmanager.New(&m.l)
	m.rt = restable.New(&m.l)
	m.wctx, m.wcancel = context.WithCancel(context.Background())

	return m
}

// func Manager.watch {{{

// Shuts us down when the parent context ends.
func (m *Manager) watch() {
	go func() {
		select {
		case <-m.ctx.Done():
			// Already expired, so anything still queued is failed right away.
			m.Shutdown(m.ctx)
		case <-m.bye:
		}
	}()
} // }}}

// func Manager.Register {{{

// Sets the constructor for tag, replacing any previous one.
func (m *Manager) Register(tag types.TypeTag, ctor types.Constructor) error {
	if tag == "" {
		return errors.New("Empty type tag")
	}

	if ctor == nil {
		return errors.New("Missing constructor")
	}

	if m.isClosed() {
		return types.ErrShutdown
	}

	m.cMut.Lock()
	m.ctors[tag] = ctor
	m.cMut.Unlock()

	m.l.Debug().Str("func", "Register").Str("type", string(tag)).Send()

	return nil
} // }}}

func (m *Manager) constructor(tag types.TypeTag) (types.Constructor, bool) {
	m.cMut.RLock()
	ctor, ok := m.ctors[tag]
	m.cMut.RUnlock()

	return ctor, ok
}

// func Manager.Initialize {{{

// Mounts the configured filesystems and starts the workers.
//
// Requests made before this stay queued. Calling it again does nothing.
func (m *Manager) Initialize() error {
	fl := m.l.With().Str("func", "Initialize").Logger()

	// A reload must not slip in between reading the configuration and mounting it.
	m.rMut.Lock()
	defer m.rMut.Unlock()

	m.sMut.Lock()
	defer m.sMut.Unlock()

	if m.isClosed() {
		return types.ErrShutdown
	}

	if m.started {
		fl.Debug().Msg("already started")
		return nil
	}

	co := m.getConf()

	// Only a configured manager builds its own mounts.
	if m.yc != nil {
		mounts, err := m.buildMounts(m.ctx, co)
		if err != nil {
			fl.Err(err).Msg("buildMounts")
			return err
		}

		if err := m.vfs.SetMounts(mounts); err != nil {
			fl.Err(err).Msg("SetMounts")
			return err
		}
	}

	m.workers = co.Workers
	if m.workers < 1 {
		m.workers = 1
	}

	for i := 0; i < m.workers; i++ {
		m.wg.Add(1)
		go m.worker(i)
	}

	m.started = true

	fl.Info().Int("workers", m.workers).Int("queued", m.q.Len()).Msg("started")

	return nil
} // }}}

// func Manager.Request {{{

// Returns the id for filename, queueing a load the first time the filename is seen.
//
// Never waits on I/O. Missing or broken files are reported through the resource status,
// not here. A filename that failed keeps its id until Unload().
func (m *Manager) Request(filename string, tag types.TypeTag) (types.ResourceID, error) {
	fl := m.l.With().Str("func", "Request").Str("file", filename).Str("type", string(tag)).Logger()

	if m.isClosed() {
		return 0, types.ErrShutdown
	}

	if _, ok := m.constructor(tag); !ok {
		fl.Warn().Msg("no constructor")
		return 0, fmt.Errorf("%w: %s", types.ErrUnknownType, tag)
	}

	name := cleanName(filename)

	// Runs with the filename index locked.
	create := func(id types.ResourceID) error {
		m.rt.Add(id, name, tag)

		if err := m.q.Push(loadqueue.Item{ID: id, Filename: name, Type: tag}); err != nil {
			m.rt.Fail(id, err)
			m.rt.Remove(id)
			return err
		}

		return nil
	}

	id, created, err := m.im.Request(name, create)
	if err != nil {
		fl.Err(err).Send()
		return 0, err
	}

	fl.Debug().Uint64("id", uint64(id)).Bool("queued", created).Send()

	return id, nil
} // }}}

// Invalid names are kept as is, loading them fails with FileNotFound.
func cleanName(filename string) string {
	if name, ok := vfs.CleanName(filename); ok {
		return name
	}

	return filename
}

// func Manager.StatusOf {{{

func (m *Manager) StatusOf(id types.ResourceID) (types.Status, error) {
	return m.rt.Status(id)
} // }}}

// func Manager.IsLoaded {{{

func (m *Manager) IsLoaded(id types.ResourceID) bool {
	st, err := m.rt.Status(id)
	return err == nil && st == types.StatusSucceeded
} // }}}

// func Manager.Fetch {{{

// Returns the loaded object for id without blocking.
//
// While queued or loading the error is types.ErrNotReady. A failed load returns a
// *types.LoadError matching types.ErrLoadFailed. Every call for a loaded id returns the same
// object, which is shared and must not be modified.
func (m *Manager) Fetch(id types.ResourceID) (interface{}, error) {
	return m.rt.Fetch(id)
} // }}}

// func Manager.Await {{{

// Same as Fetch() but blocks until the load finished or ctx is done.
//
// Never call from inside a constructor.
func (m *Manager) Await(ctx context.Context, id types.ResourceID) (interface{}, error) {
	return m.rt.Await(ctx, id)
} // }}}

// func Manager.IsFileAlreadyLoaded {{{

// True if filename was requested and loaded successfully, never queues anything.
func (m *Manager) IsFileAlreadyLoaded(filename string) bool {
	id, ok := m.im.Lookup(cleanName(filename))
	if !ok {
		return false
	}

	return m.IsLoaded(id)
} // }}}

// func Manager.Load {{{

// Request() and Await() in one call.
func (m *Manager) Load(ctx context.Context, filename string, tag types.TypeTag) (interface{}, error) {
	id, err := m.Request(filename, tag)
	if err != nil {
		return nil, err
	}

	return m.Await(ctx, id)
} // }}}

// func Manager.Cancel {{{

// Cancels a load that has not started yet.
//
// Returns the resulting status, loads already running or finished are not touched.
func (m *Manager) Cancel(id types.ResourceID) (types.Status, error) {
	st, err := m.rt.Cancel(id)
	if err != nil {
		return st, err
	}

	m.l.Debug().Str("func", "Cancel").Uint64("id", uint64(id)).Str("status", st.String()).Send()

	return st, nil
} // }}}

// func Manager.Unload {{{

// Drops a finished resource, closing its object if it is an io.Closer.
//
// The id is never handed out again, requesting the filename afterwards queues a new load
// with a new id. Resources still queued or loading give types.ErrNotTerminal.
func (m *Manager) Unload(id types.ResourceID) error {
	fl := m.l.With().Str("func", "Unload").Uint64("id", uint64(id)).Logger()

	snap, ok := m.rt.Get(id)
	if !ok {
		return types.ErrUnknownID
	}

	var payload interface{}

	err := m.im.Release(snap.Filename, id, func() error {
		var err error
		_, payload, err = m.rt.Remove(id)
		return err
	})
	if err != nil {
		fl.Debug().Err(err).Send()
		return err
	}

	m.release(payload)

	fl.Debug().Str("file", snap.Filename).Send()

	return nil
} // }}}

// func Manager.release {{{

func (m *Manager) release(payload interface{}) {
	c, ok := payload.(io.Closer)
	if !ok {
		return
	}

	if err := c.Close(); err != nil {
		m.l.Warn().Str("func", "release").Err(err).Send()
	}
} // }}}

// func Manager.Resources {{{

// Every known resource whose filename starts with prefix, ordered by filename.
func (m *Manager) Resources(prefix string) []Resource {
	files := m.im.Filenames(prefix)
	out := make([]Resource, 0, len(files))

	for _, fi := range files {
		snap, ok := m.rt.Get(fi.ID)
		if !ok {
			continue
		}

		res := Resource{
			ID:       snap.ID,
			Filename: snap.Filename,
			Type:     snap.Type,
			Status:   snap.Status,
		}

		var le *types.LoadError
		if errors.As(snap.Err, &le) {
			res.Reason = le.Reason
		}

		out = append(out, res)
	}

	return out
} // }}}

// func Manager.Stats {{{

func (m *Manager) Stats() Stats {
	counts := m.rt.Counts()

	st := Stats{
		Pending:   counts[types.StatusPending],
		Loading:   counts[types.StatusLoading],
		Succeeded: counts[types.StatusSucceeded],
		Failed:    counts[types.StatusFailed],
		Cancelled: counts[types.StatusCancelled],
		Queued:    m.q.Len(),
	}

	m.sMut.Lock()
	st.Workers = m.workers
	m.sMut.Unlock()

	if m.vfs != nil {
		st.Opens = m.vfs.Opens()
	}

	return st
} // }}}

// func Manager.Shutdown {{{

// Stops accepting requests and lets the workers finish everything already queued.
//
// If ctx ends first whatever is still queued fails with ShutdownInProgress and running
// loads are asked to stop. Either way this only returns once every worker exited. All
// loaded objects are released and the filesystem is closed afterwards.
//
// Calling it again waits for the first call to finish.
func (m *Manager) Shutdown(ctx context.Context) error {
	if !atomic.CompareAndSwapUint32(&m.closed, 0, 1) {
		select {
		case <-m.bye:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	}

	fl := m.l.With().Str("func", "Shutdown").Logger()
	fl.Info().Int("queued", m.q.Len()).Msg("shutting down")

	if m.yc != nil {
		m.yc.Stop()
	}

	m.im.Close()
	m.q.Close()

	// No worker can be started past this point.
	m.sMut.Lock()
	started := m.started
	m.sMut.Unlock()

	if !started {
		m.abort()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		fl.Warn().Err(ctx.Err()).Msg("aborting queued loads")
		m.abort()
		m.wcancel()
		<-done
	}

	m.wcancel()

	payloads := m.rt.Clear()
	for _, p := range payloads {
		m.release(p)
	}

	if m.vfs != nil {
		m.vfs.Close()
	}

	close(m.bye)

	fl.Info().Int("released", len(payloads)).Msg("shutdown complete")

	return nil
} // }}}

// func Manager.abort {{{

// Fails everything still queued.
func (m *Manager) abort() {
	for _, it := range m.q.Drain() {
		m.rt.Fail(it.ID, &types.LoadError{
			ID:       it.ID,
			Filename: it.Filename,
			Reason:   types.ReasonShutdownInProgress,
			Err:      types.ErrShutdown,
		})
	}
} // }}}

func (m *Manager) isClosed() bool {
	return atomic.LoadUint32(&m.closed) == 1
}
