// Package build exports a project into a self-contained bundle: the project
// document plus every asset it references.
package build

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ivlev/vngen/internal/timeline"
)

// ErrUnknownPlatform is returned for a platform outside Platforms.
var ErrUnknownPlatform = errors.New("unknown platform")

// Platforms are the bundle targets.
var Platforms = []string{"windows", "mac", "linux"}

// ManifestName is written into every bundle.
const ManifestName = "manifest.json"

// Options configures Build.
type Options struct {
	Platform string
	Output   string // root; the bundle goes to Output/Platform
	Workers  int
	Logger   *slog.Logger
}

// Manifest describes one bundle.
type Manifest struct {
	BuildID   string    `json:"build_id"`
	Platform  string    `json:"platform"`
	Project   string    `json:"project"`
	CreatedAt time.Time `json:"created_at"`
	Assets    []string  `json:"assets"`
	Missing   []string  `json:"missing,omitempty"`
}

// Result is what Build produced.
type Result struct {
	Dir      string
	Manifest Manifest
}

// Build copies the project file of m and its assets into
// Output/Platform. Missing assets are logged and listed in the manifest.
func Build(ctx context.Context, m *timeline.Model, opts Options) (*Result, error) {
	if !slices.Contains(Platforms, opts.Platform) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlatform, opts.Platform)
	}
	if m.ProjectFile() == "" {
		return nil, errors.New("build: project has no file")
	}
	if opts.Output == "" {
		opts.Output = "build"
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	dir := filepath.Join(opts.Output, opts.Platform)
	assetsDir := filepath.Join(dir, "assets")
	if err := os.MkdirAll(assetsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create bundle: %w", err)
	}

	man := Manifest{
		BuildID:   uuid.NewString(),
		Platform:  opts.Platform,
		Project:   filepath.Base(m.ProjectFile()),
		CreatedAt: time.Now().UTC(),
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for _, ref := range m.AssetRefs() {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			src := m.Resolve(ref)
			rel := BundlePath(ref)
			err := copyFile(src, filepath.Join(assetsDir, filepath.FromSlash(rel)))

			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, os.ErrNotExist):
				log.Warn("asset missing, skipped", "path", src)
				man.Missing = append(man.Missing, ref)
				return nil
			case err != nil:
				return fmt.Errorf("copy %s: %w", ref, err)
			}
			man.Assets = append(man.Assets, rel)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	slices.Sort(man.Assets)
	slices.Sort(man.Missing)

	if err := copyFile(m.ProjectFile(), filepath.Join(dir, man.Project)); err != nil {
		return nil, fmt.Errorf("copy project: %w", err)
	}
	if err := writeManifest(dir, man); err != nil {
		return nil, err
	}
	readme := fmt.Sprintf("Build for %s\nProject: %s\nBuild ID: %s\nAssets copied: %d files\n",
		man.Platform, man.Project, man.BuildID, len(man.Assets))
	if err := os.WriteFile(filepath.Join(dir, "README.txt"), []byte(readme), 0o644); err != nil {
		return nil, fmt.Errorf("write readme: %w", err)
	}

	log.Info("bundle written", "dir", dir, "assets", len(man.Assets), "missing", len(man.Missing))
	return &Result{Dir: dir, Manifest: man}, nil
}

// BundlePath is where a reference lands under the bundle assets directory.
// References outside the project directory are flattened into external/.
func BundlePath(ref string) string {
	p := filepath.FromSlash(ref)
	if filepath.IsAbs(p) {
		return "external/" + filepath.Base(p)
	}
	return filepath.ToSlash(filepath.Clean(p))
}

// ReadManifest loads the manifest of a bundle directory.
func ReadManifest(dir string) (Manifest, error) {
	var man Manifest
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		return man, err
	}
	if err := json.Unmarshal(data, &man); err != nil {
		return man, fmt.Errorf("decode manifest: %w", err)
	}
	return man, nil
}

func writeManifest(dir string, man Manifest) error {
	data, err := json.MarshalIndent(man, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestName), append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// copyFile копирует содержимое, права и время модификации
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", src)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}
