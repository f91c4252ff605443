package settings

import (
	"context"

	"github.com/fsnotify/fsnotify"

	"github.com/outbound-gateway/oagw/pkg/logging"
)

// Watch reloads path whenever it changes on disk and invokes onChange
// with the freshly loaded Settings, for local/dev deployments that want
// to edit the config file without restarting the process. It runs until
// ctx is canceled.
func Watch(ctx context.Context, path string, onChange func(Settings)) error {
	if path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return err
	}

	log := logging.New("settings")
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				s, err := Load(path)
				if err != nil {
					log.Error(err, "reloading config file", "path", path)
					continue
				}
				onChange(s)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Error(err, "watching config file", "path", path)
			}
		}
	}()
	return nil
}
