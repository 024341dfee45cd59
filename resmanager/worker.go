package resmanager

import (
	"engine/loadqueue"
	"engine/types"
	"errors"
	"fmt"
	"github.com/rs/zerolog"
	"io"
)

var errTooLarge = errors.New("Larger than maxsize")

// func Manager.worker {{{

// Loads queued items until the queue is closed and empty.
func (m *Manager) worker(n int) {
	defer m.wg.Done()

	fl := m.l.With().Str("func", "worker").Int("worker", n).Logger()
	fl.Debug().Msg("started")

	for {
		it, ok := m.q.Pop()
		if !ok {
			fl.Debug().Msg("queue closed")
			return
		}

		m.process(&fl, it)
	}
} // }}}

// func Manager.process {{{

func (m *Manager) process(l *zerolog.Logger, it loadqueue.Item) {
	fl := l.With().Uint64("id", uint64(it.ID)).Str("file", it.Filename).Str("type", string(it.Type)).Logger()

	// Cancelled or unloaded while queued.
	if !m.rt.Begin(it.ID) {
		fl.Debug().Msg("skipped")
		return
	}

	payload, err := m.load(it)
	if err != nil {
		fl.Info().Str("reason", err.Reason).Msg("failed")
		m.rt.Finish(it.ID, nil, err)
		return
	}

	m.rt.Finish(it.ID, payload, nil)

	fl.Debug().Msg("loaded")
} // }}}

// func Manager.load {{{

func (m *Manager) load(it loadqueue.Item) (interface{}, *types.LoadError) {
	fail := func(reason string, err error) (interface{}, *types.LoadError) {
		return nil, &types.LoadError{ID: it.ID, Filename: it.Filename, Reason: reason, Err: err}
	}

	if m.wctx.Err() != nil {
		return fail(types.ReasonShutdownInProgress, types.ErrShutdown)
	}

	ctor, ok := m.constructor(it.Type)
	if !ok {
		return fail(types.ReasonParseError+": no constructor for "+string(it.Type), types.ErrUnknownType)
	}

	rc, err := m.fs.Open(m.wctx, it.Filename)
	if err != nil {
		switch {
		case m.wctx.Err() != nil:
			return fail(types.ReasonShutdownInProgress, err)
		case errors.Is(err, types.ErrFileNotFound):
			return fail(types.ReasonFileNotFound, err)
		}

		return fail(types.ReasonFileUnreadable+": "+err.Error(), err)
	}

	defer rc.Close()

	lr := &loadReader{m: m, r: rc, left: -1}
	if limit := m.getConf().MaxSize; limit > 0 {
		lr.left = limit
	}

	payload, err := construct(ctor, lr, it.Filename)
	switch {
	case err == nil && payload == nil:
		return fail(types.ReasonParseError+": constructor returned nothing", nil)
	case err == nil:
		return payload, nil
	case m.wctx.Err() != nil:
		return fail(types.ReasonShutdownInProgress, err)
	case lr.over:
		return fail(types.ReasonFileUnreadable+": "+errTooLarge.Error(), errTooLarge)
	case lr.err != nil:
		return fail(types.ReasonFileUnreadable+": "+lr.err.Error(), lr.err)
	}

	var pe *types.ParseError
	if errors.As(err, &pe) {
		return fail(types.ReasonParseError+": "+pe.Error(), err)
	}

	return fail(types.ReasonParseError+": "+err.Error(), err)
} // }}}

// func construct {{{

// A panicking constructor fails the one load, not the worker.
func construct(ctor types.Constructor, r io.Reader, name string) (payload interface{}, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			payload = nil
			err = fmt.Errorf("panic: %v", rec)
		}
	}()

	return ctor(r, name)
} // }}}

// type loadReader struct {{{

// Wraps the stream handed to a constructor.
//
// Stops at maxsize, stops once the workers are cancelled, and remembers stream errors so they
// are not mistaken for bad file contents.
type loadReader struct {
	m *Manager
	r io.Reader

	// Bytes still allowed, -1 for no limit.
	left int64
	over bool

	// First read error other than io.EOF.
	err error
} // }}}

func (lr *loadReader) Read(p []byte) (int, error) {
	if err := lr.m.wctx.Err(); err != nil {
		return 0, err
	}

	if lr.over {
		return 0, errTooLarge
	}

	// One byte past the limit tells a file of exactly maxsize from a larger one.
	if lr.left >= 0 && int64(len(p)) > lr.left+1 {
		p = p[:lr.left+1]
	}

	n, err := lr.r.Read(p)

	if lr.left >= 0 {
		lr.left -= int64(n)
		if lr.left < 0 {
			lr.over = true
			return n + int(lr.left), errTooLarge
		}
	}

	if err != nil && err != io.EOF && lr.err == nil {
		lr.err = err
	}

	return n, err
}
