// YAML configuration loading and watching.
//
// A configuration path may be a single .yaml/.json file or a directory, directories are
// walked recursively in name order and every file is merged through Callers.Merge.
package yconf

import (
	"context"
	"errors"
	"fmt"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// func New {{{

// Creates a new *YConf, nothing is parsed yet.
//
// Use CheckConf() for a single load, Start() for a load followed by background watching
// that ends when ctx is done or Stop() is called.
func New(confPath string, ca Callers, l *zerolog.Logger, ctx context.Context) (*YConf, error) {
	if ca.Empty == nil {
		return nil, errors.New("Missing Callers.Empty")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	yc := &YConf{
		confPath: confPath,
		ca:       ca,
		ctx:      ctx,
		bye:      make(chan struct{}),
		interval: time.Minute,

		// So we never have a situation where lo is nil
		lo: &loaded{},

		l: l.With().Str("mod", "yconf").Str("path", confPath).Logger(),
	}

	yc.l.Debug().Str("func", "New").Msg("Created")

	return yc, nil
} // }}}

// func YConf.Start {{{

// Loads the configuration and starts watching it for changes.
//
// If an error is returned nothing was started and it is safe to call again.
func (yc *YConf) Start() error {
	fl := yc.l.With().Str("func", "Start").Logger()

	if err := yc.CheckConf(); err != nil {
		fl.Err(err).Msg("CheckConf")
		return err
	}

	// fsnotify is only a speed up, the ticker in loopy() still catches everything.
	wa, err := fsnotify.NewWatcher()
	if err != nil {
		fl.Warn().Err(err).Msg("fsnotify.NewWatcher, polling only")
	} else {
		yc.wa = wa
		yc.watchAll(yc.confPath)
	}

	go yc.loopy()

	fl.Debug().Msg("Started")

	return nil
} // }}}

// func YConf.Stop {{{

// Shuts down any background goroutine started by Start().
//
// Safe to call more than once.
func (yc *YConf) Stop() {
	yc.byeOnce.Do(func() {
		close(yc.bye)
		yc.l.Debug().Str("func", "Stop").Msg("Stopped")
	})
} // }}}

// func YConf.watchAll {{{

// Adds the path, and every directory below it, to the watcher.
//
// Editors tend to replace files by renaming, so we watch directories rather than files.
func (yc *YConf) watchAll(path string) {
	fl := yc.l.With().Str("func", "watchAll").Logger()

	s, err := os.Stat(path)
	if err != nil {
		fl.Err(err).Msg("stat")
		return
	}

	if !s.IsDir() {
		path = filepath.Dir(path)
	}

	filepath.Walk(path, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return nil
		}

		if !fi.IsDir() {
			return nil
		}

		if err := yc.wa.Add(p); err != nil {
			fl.Warn().Err(err).Str("dir", p).Msg("watch")
		}

		return nil
	})
} // }}}

// func YConf.isLoadedEqual {{{

// Returns true if the newly loaded configuration is the same as what we already have.
//
// Without a Changed function there is no way to tell, so always false.
func (yc *YConf) isLoadedEqual(nlo *loaded) bool {
	yc.loMut.RLock()
	defer yc.loMut.RUnlock()

	// First time loaded?
	if yc.lo == nil || yc.lo.conf == nil {
		return false
	}

	if yc.ca.Changed == nil {
		return false
	}

	return !yc.ca.Changed(yc.lo.conf, nlo.conf)
} // }}}

// func YConf.reload {{{

// Loads every file again and, if the result differs, replaces the loaded configuration and notifies.
//
// On error the previous configuration stays and nothing is sent.
func (yc *YConf) reload() error {
	fl := yc.l.With().Str("func", "reload").Logger()

	lo := &loaded{}

	if err := yc.loadConf(lo, yc.confPath); err != nil {
		fl.Err(err).Msg("loadConf")
		return fmt.Errorf("loadConf(%s): %w", yc.confPath, err)
	}

	if lo.conf == nil {
		return fmt.Errorf("no configuration files found in %s", yc.confPath)
	}

	if yc.isLoadedEqual(lo) {
		fl.Debug().Msg("unchanged")

		// Keep the timestamp, otherwise a touched file would make us reload forever.
		yc.loMut.Lock()
		yc.lo.newest = lo.newest
		yc.loMut.Unlock()
		return nil
	}

	yc.loMut.Lock()
	first := yc.lo.conf == nil
	yc.lo = lo
	yc.loMut.Unlock()

	// The first load is not a change anyone needs telling about.
	if !first && yc.ca.Notify != nil {
		go yc.ca.Notify()
	}

	return nil
} // }}}

// func YConf.Get {{{

// Returns the currently loaded configuration, nil if nothing is loaded yet.
func (yc *YConf) Get() interface{} {
	yc.loMut.RLock()
	lo := yc.lo
	yc.loMut.RUnlock()

	if lo == nil {
		return nil
	}

	return lo.conf
} // }}}

// func YConf.hasChanged {{{

// Returns true if anything in path is newer than newest.
func (yc *YConf) hasChanged(newest time.Time, path string) (bool, error) {
	s, err := os.Stat(path)
	if err != nil {
		return true, err
	}

	if s.ModTime().After(newest) {
		return true, nil
	}

	if !s.IsDir() {
		return false, nil
	}

	files, err := os.ReadDir(path)
	if err != nil {
		return true, err
	}

	for _, file := range files {
		name := file.Name()

		if file.IsDir() {
			changed, err := yc.hasChanged(newest, filepath.Join(path, name))
			if err != nil || changed {
				return true, err
			}
			continue
		}

		if !file.Type().IsRegular() || !isConf(name) {
			continue
		}

		fi, err := file.Info()
		if err != nil {
			return true, err
		}

		if fi.ModTime().After(newest) {
			return true, nil
		}
	}

	return false, nil
} // }}}

// func YConf.CheckConf {{{

// Reloads the configuration if any file changed since the last load.
func (yc *YConf) CheckConf() error {
	fl := yc.l.With().Str("func", "CheckConf").Logger()

	yc.loMut.RLock()
	newest := yc.lo.newest
	yc.loMut.RUnlock()

	changed, err := yc.hasChanged(newest, yc.confPath)
	if err != nil {
		fl.Err(err).Msg("hasChanged")
		return err
	}

	if !changed {
		return nil
	}

	fl.Debug().Bool("changed", true).Send()

	return yc.reload()
} // }}}

// func YConf.loadConf {{{

func (yc *YConf) loadConf(lo *loaded, path string) error {
	fl := yc.l.With().Str("func", "loadConf").Str("file", path).Logger()

	s, err := os.Stat(path)
	if err != nil {
		return err
	}

	if s.ModTime().After(lo.newest) {
		lo.newest = s.ModTime()
	}

	if !s.IsDir() {
		if !s.Mode().IsRegular() || !isConf(path) {
			err := errors.New("Not a directory or configuration file")
			fl.Err(err).Send()
			return err
		}

		return yc.loadConfFile(lo, path)
	}

	files, err := os.ReadDir(path)
	if err != nil {
		fl.Err(err).Msg("readdir")
		return fmt.Errorf("readdir(%s): %w", path, err)
	}

	// Sorted, so files can be ordered simply by their names.
	sort.Slice(files, func(i, j int) bool { return files[i].Name() < files[j].Name() })

	for _, file := range files {
		name := file.Name()

		// Skip hidden files (editor swap files and the like).
		if len(name) < 1 || name[0] == '.' {
			continue
		}

		full := filepath.Join(path, name)

		if file.IsDir() {
			if err := yc.loadConf(lo, full); err != nil {
				return err
			}
			continue
		}

		if !file.Type().IsRegular() || !isConf(name) {
			continue
		}

		fi, err := file.Info()
		if err != nil {
			return err
		}

		if fi.ModTime().After(lo.newest) {
			lo.newest = fi.ModTime()
		}

		if err := yc.loadConfFile(lo, full); err != nil {
			return err
		}
	}

	return nil
} // }}}

// func YConf.loadConfFile {{{

func (yc *YConf) loadConfFile(lo *loaded, file string) error {
	var err error

	fl := yc.l.With().Str("func", "loadConfFile").Str("file", file).Logger()

	f, err := os.Open(file)
	if err != nil {
		fl.Err(err).Msg("open")
		return fmt.Errorf("open(%s): %w", file, err)
	}

	defer f.Close()

	ei := yc.ca.Empty()

	// JSON is valid YAML, so a single decoder handles both.
	if err := yaml.NewDecoder(f).Decode(ei); err != nil {
		fl.Err(err).Msg("decode")
		return fmt.Errorf("decode(%s): %w", file, err)
	}

	if yc.ca.Convert != nil {
		ei, err = yc.ca.Convert(ei)
		if err != nil {
			fl.Err(err).Msg("convert")
			return fmt.Errorf("convert(%s): %w", file, err)
		}
	}

	if lo.conf == nil || yc.ca.Merge == nil {
		lo.conf = ei
		fl.Debug().Interface("loaded", lo.conf).Send()
		return nil
	}

	lo.conf, err = yc.ca.Merge(lo.conf, ei)
	if err != nil {
		fl.Err(err).Msg("merge")
		return err
	}

	fl.Debug().Interface("merged", lo.conf).Send()

	return nil
} // }}}

// func isConf {{{

func isConf(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))

	// A name that is only an extension (".yaml") is a hidden file, not a configuration.
	if len(ext) == len(filepath.Base(name)) {
		return false
	}

	switch ext {
	case ".yaml", ".yml", ".json":
		return true
	}

	return false
} // }}}

// func YConf.loopy {{{

// Handles automatic checking for new or changed configuration files.
func (yc *YConf) loopy() {
	fl := yc.l.With().Str("func", "loopy").Logger()

	tick := time.NewTicker(yc.interval)
	defer tick.Stop()

	var events <-chan fsnotify.Event
	var errs <-chan error

	if yc.wa != nil {
		defer yc.wa.Close()
		events = yc.wa.Events
		errs = yc.wa.Errors
	}

	for {
		select {
		case <-tick.C:
			yc.CheckConf()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}

			fl.Debug().Str("event", ev.String()).Send()

			// Editors write in bursts, give them a moment.
			time.Sleep(50 * time.Millisecond)
			yc.CheckConf()

			// New directories need watching as well.
			if ev.Op&fsnotify.Create != 0 {
				if s, err := os.Stat(ev.Name); err == nil && s.IsDir() {
					yc.watchAll(ev.Name)
				}
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}

			fl.Warn().Err(err).Msg("watcher")
		case <-yc.ctx.Done():
			fl.Debug().Msg("Shutting down")
			return
		case <-yc.bye:
			fl.Debug().Msg("Shutting down")
			return
		}
	}
} // }}}
