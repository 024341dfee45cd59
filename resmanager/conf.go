package resmanager

import (
	"context"
	"engine/loadqueue"
	"engine/vfs"
	"engine/yconf"
	"errors"
	"fmt"
	units "github.com/docker/go-units"
	"strings"
)

var ycCallers = yconf.Callers{
	Empty:   func() interface{} { return &confYAML{} },
	Merge:   yconfMerge,
	Convert: yconfConvert,
	Changed: yconfChanged,
}

// func Manager.loadConf {{{

func (m *Manager) loadConf() error {
	var err error

	fl := m.l.With().Str("func", "loadConf").Logger()

	ca := ycCallers
	ca.Notify = m.confChanged

	if m.yc, err = yconf.New(m.cFile, ca, &m.l, m.ctx); err != nil {
		fl.Err(err).Msg("yconf.New")
		return err
	}

	if err = m.yc.CheckConf(); err != nil {
		fl.Err(err).Msg("yc.CheckConf")
		return err
	}

	co, ok := m.yc.Get().(*conf)
	if !ok || co == nil {
		err := errors.New("Missing conf")
		fl.Err(err).Send()
		return err
	}

	fl.Debug().Interface("conf", co).Send()

	m.co.Store(co)

	return nil
} // }}}

// func Manager.getConf {{{

func (m *Manager) getConf() *conf {
	if co, ok := m.co.Load().(*conf); ok {
		return co
	}

	m.l.Warn().Str("func", "getConf").Msg("Missing conf?")
	return &conf{}
} // }}}

// func Manager.confChanged {{{

// Called by yconf whenever the configuration changed.
//
// Mounts are rebuilt and swapped in one go. The worker count and queue order are fixed once
// Initialize() ran, changing those needs a restart.
func (m *Manager) confChanged() {
	fl := m.l.With().Str("func", "confChanged").Logger()

	m.rMut.Lock()
	defer m.rMut.Unlock()

	if m.isClosed() {
		return
	}

	// Read under rMut, whoever runs last swaps in the newest configuration.
	co, ok := m.yc.Get().(*conf)
	if !ok || co == nil {
		fl.Warn().Msg("Missing conf")
		return
	}

	old := m.getConf()
	m.co.Store(co)

	if co.Workers != old.Workers || co.Order != old.Order {
		fl.Warn().Int("workers", co.Workers).Str("order", co.Order).Msg("workers and order only change on restart")
	}

	m.sMut.Lock()
	started := m.started
	m.sMut.Unlock()

	// Initialize() builds the first set.
	if !started || !mountsChanged(old, co) {
		return
	}

	mounts, err := m.buildMounts(m.ctx, co)
	if err != nil {
		fl.Err(err).Msg("buildMounts, keeping the old mounts")
		return
	}

	if err := m.vfs.SetMounts(mounts); err != nil {
		fl.Err(err).Msg("SetMounts")
	}
} // }}}

// func Manager.buildMounts {{{

// Search paths first, then archives, then the database and the bucket.
func (m *Manager) buildMounts(ctx context.Context, co *conf) ([]vfs.Mount, error) {
	var mounts []vfs.Mount

	fail := func(err error) ([]vfs.Mount, error) {
		for _, mt := range mounts {
			mt.Close()
		}
		return nil, err
	}

	for _, dir := range co.SearchPaths {
		mt, err := vfs.NewDirMount(dir)
		if err != nil {
			return fail(fmt.Errorf("searchpath %s: %w", dir, err))
		}
		mounts = append(mounts, mt)
	}

	for _, file := range co.Archives {
		mt, err := vfs.NewZipMount(file)
		if err != nil {
			return fail(fmt.Errorf("archive %s: %w", file, err))
		}
		mounts = append(mounts, mt)
	}

	if co.Database != nil {
		mt, err := vfs.NewPGMount(ctx, *co.Database, &m.l)
		if err != nil {
			return fail(fmt.Errorf("database: %w", err))
		}
		mounts = append(mounts, mt)
	}

	if co.S3 != nil {
		mt, err := vfs.NewS3Mount(ctx, *co.S3, &m.l)
		if err != nil {
			return fail(fmt.Errorf("s3: %w", err))
		}
		mounts = append(mounts, mt)
	}

	return mounts, nil
} // }}}

// func parseOrder {{{

func parseOrder(s string) (loadqueue.Order, error) {
	switch strings.ToLower(s) {
	case "", "fifo":
		return loadqueue.FIFO, nil
	case "lifo":
		return loadqueue.LIFO, nil
	}

	return loadqueue.FIFO, fmt.Errorf("invalid order %q", s)
} // }}}

// func yconfMerge {{{

func yconfMerge(inAInt, inBInt interface{}) (interface{}, error) {
	// Previously loaded files are in inA, inB is only the most recent file, so merge into inA.
	inA, ok := inAInt.(*conf)
	if !ok {
		return nil, errors.New("not a *conf")
	}

	inB, ok := inBInt.(*conf)
	if !ok {
		return nil, errors.New("not a *conf")
	}

	if inB.Workers > 0 {
		inA.Workers = inB.Workers
	}

	if inB.Order != "" {
		inA.Order = inB.Order
	}

	if inB.MaxSize > 0 {
		inA.MaxSize = inB.MaxSize
	}

	// Search order follows the file order.
	inA.SearchPaths = append(inA.SearchPaths, inB.SearchPaths...)
	inA.Archives = append(inA.Archives, inB.Archives...)

	if inB.Database != nil {
		inA.Database = inB.Database
	}

	if inB.S3 != nil {
		inA.S3 = inB.S3
	}

	return inA, nil
} // }}}

// func yconfChanged {{{

func yconfChanged(origConfInt, newConfInt interface{}) bool {
	origConf, ok := origConfInt.(*conf)
	if !ok {
		return true
	}

	newConf, ok := newConfInt.(*conf)
	if !ok {
		return true
	}

	if origConf.Workers != newConf.Workers || origConf.Order != newConf.Order {
		return true
	}

	if origConf.MaxSize != newConf.MaxSize {
		return true
	}

	return mountsChanged(origConf, newConf)
} // }}}

// func mountsChanged {{{

func mountsChanged(a, b *conf) bool {
	if !equalStrings(a.SearchPaths, b.SearchPaths) || !equalStrings(a.Archives, b.Archives) {
		return true
	}

	if (a.Database == nil) != (b.Database == nil) || (a.Database != nil && *a.Database != *b.Database) {
		return true
	}

	if (a.S3 == nil) != (b.S3 == nil) || (a.S3 != nil && *a.S3 != *b.S3) {
		return true
	}

	return false
} // }}}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}

// func yconfConvert {{{

func yconfConvert(inInt interface{}) (interface{}, error) {
	in, ok := inInt.(*confYAML)
	if !ok {
		return nil, errors.New("not *confYAML")
	}

	if in.Workers < 0 {
		return nil, errors.New("invalid workers")
	}

	out := &conf{
		Workers:     in.Workers,
		SearchPaths: in.SearchPaths,
		Archives:    in.Archives,
		Database:    in.Database,
		S3:          in.S3,
	}

	if in.Order != "" {
		if _, err := parseOrder(in.Order); err != nil {
			return nil, err
		}

		out.Order = strings.ToLower(in.Order)
	}

	// Sizes such as "64MiB" or "512k".
	if in.MaxSize != "" {
		size, err := units.RAMInBytes(in.MaxSize)
		if err != nil {
			return nil, fmt.Errorf("invalid maxsize: %w", err)
		}

		out.MaxSize = size
	}

	return out, nil
} // }}}
