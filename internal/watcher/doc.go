// Package watcher reports debounced file-system changes under a workspace
// root using fsnotify.
//
// Events for the same path within the debounce window are coalesced and
// delivered as one batch. Paths rejected by the caller's filter are never
// reported; .gitignore edits surface as OpGitignoreChange so the consumer
// can re-evaluate exclusions.
//
//	w, err := watcher.New(root, watcher.Options{Filter: scn.Excluded})
//	if err != nil {
//	    return err
//	}
//	go func() { _ = w.Run(ctx) }()
//	for batch := range w.Events() {
//	    ...
//	}
package watcher
