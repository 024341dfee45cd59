package main

import (
	"context"
	"engine/loaders"
	"engine/resmanager"
	"engine/types"
	"engine/yconf"
	"flag"
	"fmt"
	"github.com/rs/zerolog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// func usage {{{

func usage() {
	fmt.Printf("usage: %s\n", os.Args[0])
	flag.PrintDefaults()
	os.Exit(-1)
} // }}}

type confFile struct {
	// File/Path to the resource manager configuration, passed in to resmanager.New()
	//
	// This one is not optional.
	Resources string `yaml:"resources"`

	// Texture loading options.
	Textures loaders.ConfYAML `yaml:"textures"`

	// Files requested right after startup, the type is picked by extension.
	Preload []string `yaml:"preload"`

	// How long queued loads get to finish on shutdown, "30s" if empty.
	ShutdownTimeout string `yaml:"shutdowntimeout"`

	// The path for the hourly log file to be written.
	// STDOUT and STDERR will be redirected to this file.
	//
	// Optional - If left empty then STDOUT and STDERR will get all output.
	LogPath string `yaml:"logpath"`
}

type resload struct {
	l       zerolog.Logger
	cFile   string
	co      *confFile
	rm      *resmanager.Manager
	curHour int32
	yc      *yconf.YConf
	lw      logWrite
	bye     chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

var pathsConf = yconf.Callers{
	Empty: func() interface{} { return &confFile{} },
}

// func resload.Wait {{{

// Does not return until a signal such as SIGTERM or SIGINT.
func (r *resload) Wait() {
	fl := r.l.With().Str("func", "Wait").Logger()

	endSig := make(chan os.Signal, 1)
	signal.Notify(endSig, os.Interrupt, syscall.SIGTERM)

	fl.Info().Msg("Waiting on signal")

	<-endSig

	signal.Stop(endSig)
} // }}}

// func resload.Close {{{

func (r *resload) Close() {
	// Stop the log rotation goroutine.
	close(r.bye)

	r.l.Info().Msg("Shutting down")

	if r.rm != nil {
		timeout := 30 * time.Second
		if r.co != nil && r.co.ShutdownTimeout != "" {
			if d, err := time.ParseDuration(r.co.ShutdownTimeout); err == nil {
				timeout = d
			} else {
				r.l.Warn().Err(err).Msg("shutdowntimeout")
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := r.rm.Shutdown(ctx); err != nil {
			r.l.Err(err).Msg("Shutdown")
		}
		cancel()
	}

	if r.yc != nil {
		r.yc.Stop()
	}

	r.cancel()
} // }}}

// func resload.preload {{{

// Requests every preload file, and logs each one as it finishes.
//
// The returned WaitGroup is done once all of them are.
func (r *resload) preload() *sync.WaitGroup {
	fl := r.l.With().Str("func", "preload").Logger()

	var wg sync.WaitGroup

	for _, name := range r.co.Preload {
		tag := loaders.TagFor(name)

		id, err := r.rm.Request(name, tag)
		if err != nil {
			fl.Err(err).Str("file", name).Msg("Request")
			continue
		}

		wg.Add(1)
		go func(name string, id types.ResourceID) {
			defer wg.Done()

			v, err := r.rm.Await(r.ctx, id)
			if err != nil {
				fl.Warn().Err(err).Str("file", name).Uint64("id", uint64(id)).Msg("failed")
				return
			}

			ev := fl.Info().Str("file", name).Uint64("id", uint64(id))

			switch res := v.(type) {
			case *loaders.Texture:
				ev = ev.Str("format", res.Format).Str("size", res.Size().String()).Int("mipmaps", len(res.Mipmaps))
			case *loaders.Mesh:
				ev = ev.Int("vertices", len(res.Vertices)).Int("triangles", res.Triangles())
			case *loaders.Material:
				ev = ev.Str("material", res.Name).Str("shader", res.Shader)
			case *loaders.Blob:
				ev = ev.Int("bytes", len(res.Data))
			}

			ev.Msg("loaded")
		}(name, id)
	}

	return &wg
} // }}}

// func main {{{

func main() {
	var err error
	var once bool

	zerolog.TimeFieldFormat = time.RFC3339

	r := &resload{
		// Set to an invalid hour to ensure it rotates the first time.
		curHour: 50,
		bye:     make(chan struct{}),
	}

	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.l = r.newLog()

	flag.StringVar(&r.cFile, "conf", "", "YAML Configuration directory")
	flag.BoolVar(&once, "once", false, "Exit once every preload file finished")
	flag.Parse()

	if r.cFile == "" {
		usage()
	}

	r.yc, err = yconf.New(r.cFile, pathsConf, &r.l, r.ctx)
	if err != nil {
		r.l.Err(err).Msg("yconf.New")
		os.Exit(-1)
	}

	if err = r.yc.CheckConf(); err != nil {
		r.l.Err(err).Msg("yc.CheckConf")
		os.Exit(-1)
	}

	if lconf, ok := r.yc.Get().(*confFile); ok {
		r.co = lconf
	}

	if r.co == nil {
		r.l.Error().Msg("No configuration loaded")
		os.Exit(-1)
	}

	if r.co.LogPath != "" {
		if err := r.logRotate(); err != nil {
			r.l.Err(err).Msg("rotate")
			os.Exit(-1)
		}

		go r.logLoopy()
	}

	r.l.Debug().Interface("conf", r.co).Send()

	if r.co.Resources == "" {
		r.l.Error().Msg("Missing resources configuration")
		os.Exit(-1)
	}

	texConf, err := r.co.Textures.Conf()
	if err != nil {
		r.l.Err(err).Msg("textures")
		os.Exit(-1)
	}

	r.rm, err = resmanager.New(r.co.Resources, &r.l, r.ctx)
	if err != nil {
		r.l.Err(err).Msg("resmanager.New")
		r.rm = nil
		r.Close()
		os.Exit(-1)
	}

	if err := loaders.RegisterAll(r.rm, texConf); err != nil {
		r.l.Err(err).Msg("RegisterAll")
		r.Close()
		os.Exit(-1)
	}

	if err := r.rm.Initialize(); err != nil {
		r.l.Err(err).Msg("Initialize")
		r.Close()
		os.Exit(-1)
	}

	wg := r.preload()

	r.l.Info().Int("preload", len(r.co.Preload)).Msg("Startup Finished")

	if once {
		wg.Wait()
		r.l.Info().Interface("stats", r.rm.Stats()).Msg("preload done")
		r.Close()
		return
	}

	r.Wait()

	r.l.Info().Interface("stats", r.rm.Stats()).Send()
	r.Close()
} // }}}

// func resload.logLoopy {{{

// Every minute check if the hour changed, and if so rotate the log file.
func (r *resload) logLoopy() {
	fl := r.l.With().Str("func", "logLoopy").Logger()

	tick := time.NewTicker(time.Minute)
	defer tick.Stop()

	for {
		select {
		case <-tick.C:
			// We can go a while without logging anything, so rotate on the clock rather than on writes.
			hour := int32(time.Now().Hour())

			if hour != r.curHour {
				fl.Debug().Msg("rotate")
				if err := r.logRotate(); err != nil {
					fl.Err(err).Msg("rotate")
				}
			}
		case <-r.bye:
			return
		}
	}
} // }}}

// func resload.logRotate {{{

func (r *resload) logRotate() error {
	fl := r.l.With().Str("func", "logRotate").Logger()

	now := time.Now()
	hour := int32(now.Hour())

	if hour == r.curHour {
		return nil
	}

	fileName := "resload." + now.Format("2006-01-02.15") + ".log"
	fullName := r.co.LogPath + "/" + fileName

	lf, err := os.OpenFile(fullName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	fl.Debug().Str("file", fullName).Msg("rotating logfile")

	r.logFile(lf)
	r.curHour = hour

	return r.link(fileName)
} // }}}
