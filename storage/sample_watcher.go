package storage

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"StepFM/logger"

	"github.com/fsnotify/fsnotify"
)

// SampleWatcher mirrors a local sample library directory into MinIO. New or
// rewritten audio files are uploaded under their base name, so dropping a
// file into the directory makes it available at /api/samples/{name}.
type SampleWatcher struct {
	dir    string
	bucket string
}

// NewSampleWatcher creates a watcher for dir. dir must already exist.
func NewSampleWatcher(dir, bucket string) *SampleWatcher {
	return &SampleWatcher{dir: dir, bucket: bucket}
}

// Run watches the directory until ctx is cancelled. Pre-existing files are
// uploaded once at startup.
func (w *SampleWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create sample watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}

	w.syncExisting(ctx)

	// files are uploaded only after they stop growing; writes arrive in
	// bursts while a file is still being copied in
	pending := make(map[string]time.Time)
	checkTicker := time.NewTicker(250 * time.Millisecond)
	defer checkTicker.Stop()

	logger.Info("sample library watcher started",
		logger.String("dir", w.dir),
		logger.String("bucket", w.bucket))

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 && isAudioFile(event.Name) {
				pending[event.Name] = time.Now()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("sample watcher error", logger.ErrorField(err))

		case <-checkTicker.C:
			for path, last := range pending {
				if time.Since(last) < 500*time.Millisecond {
					continue
				}
				delete(pending, path)
				w.upload(ctx, path)
			}
		}
	}
}

func (w *SampleWatcher) syncExisting(ctx context.Context) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		logger.Warn("failed to scan sample library", logger.ErrorField(err))
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !isAudioFile(entry.Name()) {
			continue
		}
		w.upload(ctx, filepath.Join(w.dir, entry.Name()))
	}
}

func (w *SampleWatcher) upload(ctx context.Context, path string) {
	f, err := os.Open(path)
	if err != nil {
		logger.Warn("failed to open sample file",
			logger.ErrorField(err),
			logger.String("path", path))
		return
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		logger.Warn("failed to stat sample file",
			logger.ErrorField(err),
			logger.String("path", path))
		return
	}

	name := filepath.Base(path)
	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	uploadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := PutSample(uploadCtx, w.bucket, name, f, stat.Size(), contentType); err != nil {
		logger.Warn("failed to upload sample",
			logger.ErrorField(err),
			logger.String("sample", name))
		return
	}

	logger.Info("sample uploaded",
		logger.String("sample", name),
		logger.Int64("bytes", stat.Size()))
}

func isAudioFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".wav", ".mp3", ".ogg", ".flac", ".aif", ".aiff":
		return true
	}
	return false
}
