package assets

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Options configures a Loader.
type Options struct {
	DPI        int
	MaxEntries int // 0 means unbounded
	Workers    int // preload concurrency
	Logger     *slog.Logger
}

// identity is what makes a cached decode valid: a file that changes size or
// modification time is decoded again.
type identity struct {
	mod  time.Time
	size int64
}

type entry struct {
	id  identity
	img image.Image
}

// Loader decodes images on demand and caches them by path and file
// identity. Failures are never cached, so a missing file is retried on the
// next call.
type Loader struct {
	opts Options
	log  *slog.Logger

	mu      sync.Mutex
	entries map[string]entry
	group   singleflight.Group
}

// NewLoader returns an empty cache.
func NewLoader(opts Options) *Loader {
	if opts.DPI <= 0 {
		opts.DPI = DefaultDPI
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Loader{opts: opts, log: log, entries: make(map[string]entry)}
}

// Load returns the decoded image at path.
func (l *Loader) Load(path string) (image.Image, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	id := identity{mod: info.ModTime(), size: info.Size()}

	l.mu.Lock()
	e, ok := l.entries[path]
	l.mu.Unlock()
	if ok && e.id == id {
		return e.img, nil
	}

	key := fmt.Sprintf("%s\x00%d\x00%d", path, id.mod.UnixNano(), id.size)
	v, err, _ := l.group.Do(key, func() (any, error) {
		img, err := Decode(path, l.opts.DPI)
		if err != nil {
			return nil, err
		}
		l.store(path, entry{id: id, img: img})
		return img, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(image.Image), nil
}

func (l *Loader) store(path string, e entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.entries[path]; !exists && l.opts.MaxEntries > 0 && len(l.entries) >= l.opts.MaxEntries {
		// вытесняем произвольную запись
		for k := range l.entries {
			delete(l.entries, k)
			break
		}
	}
	l.entries[path] = e
}

// Len is the number of cached images.
func (l *Loader) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Forget drops path from the cache.
func (l *Loader) Forget(path string) {
	l.mu.Lock()
	delete(l.entries, path)
	l.mu.Unlock()
}

// Preload decodes paths concurrently. Individual failures are logged and
// counted; only cancellation is returned as an error.
func (l *Loader) Preload(ctx context.Context, paths []string) (loaded int, err error) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(l.opts.Workers)

	var mu sync.Mutex
	for _, p := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if _, err := l.Load(p); err != nil {
				l.log.Warn("preload failed", "path", p, "error", err)
				return nil
			}
			mu.Lock()
			loaded++
			mu.Unlock()
			return nil
		})
	}
	err = g.Wait()
	return loaded, err
}
