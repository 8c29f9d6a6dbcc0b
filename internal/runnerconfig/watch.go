package runnerconfig

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/runjobs/runjobs/internal/runnerlog"
)

// quiesceWindow is the debounce interval used to coalesce rapid successive
// write events on the config file into a single reload, shortened from
// watch.go's 100ms sameFileQuiesceTime since a config file is small and
// usually rewritten atomically by an editor or deploy step (SPEC_FULL.md
// §6.7).
const quiesceWindow = 50 * time.Millisecond

// Activator is the subset of Coordinator that config-file hot reload needs:
// look up which jobs are already running, and bring a newly-listed one
// online. Defined here (rather than imported from internal/runner) so this
// package only depends on the shape it actually uses.
type Activator interface {
	ActiveJobNames() []string
	ActivateJob(name string) error
}

// Watch watches path's parent directory for changes (fsnotify can't watch a
// single file reliably across editors' save-via-rename behavior, the same
// reason watch.go's addWatched watches directories), and on a debounced
// change re-reads the config file, activates any job its include list names
// that isn't already running, and logs any running job that list no longer
// names (that job keeps running). It runs until stop fires.
//
// Grounded on watch.go's watchChanges/buildWithinSameFileQuiesce: accumulate
// events, wait out the quiesce window, then act once instead of once per
// filesystem event.
func Watch(path string, activator Activator, stop <-chan struct{}, log runnerlog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	go runWatch(watcher, path, activator, stop, log)
	return nil
}

func runWatch(watcher *fsnotify.Watcher, path string, activator Activator, stop <-chan struct{}, log runnerlog.Logger) {
	defer watcher.Close()

	var timer *time.Timer
	var timerCh <-chan time.Time

	for {
		select {
		case <-stop:
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			if timer == nil {
				timer = time.NewTimer(quiesceWindow)
				timerCh = timer.C
			} else {
				if !timer.Stop() {
					<-timerCh
				}
				timer.Reset(quiesceWindow)
			}

		case <-timerCh:
			reload(path, activator, log)
			timer = nil
			timerCh = nil

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Errorf("config watcher error: %v", err)
		}
	}
}

func reload(path string, activator Activator, log runnerlog.Logger) {
	file, err := Load(path)
	if err != nil {
		log.Errorf("error reloading config file %s: %v", path, err)
		return
	}

	active := map[string]bool{}
	for _, name := range activator.ActiveJobNames() {
		active[name] = true
	}

	for _, name := range file.IncludeJobs {
		if active[name] {
			continue
		}
		if err := activator.ActivateJob(name); err != nil {
			log.Errorf("error activating job %q from reloaded config: %v", name, err)
		}
	}

	listed := map[string]bool{}
	for _, name := range file.IncludeJobs {
		listed[name] = true
	}
	for name := range active {
		if len(listed) > 0 && !listed[name] {
			log.Infof("job %q is no longer listed in the config file; it keeps running until restart", name)
		}
	}
}
