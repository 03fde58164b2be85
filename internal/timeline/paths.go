package timeline

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// ProjectDirs are created next to a project file by EnsureProjectStructure.
var ProjectDirs = []string{"assets", "sprites", "backgrounds", "menus", "audio", "scenes", "builds"}

func workingDir() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

// SetProjectFile changes the document path; its directory becomes the asset root.
// An empty path resets the root to the working directory.
func (m *Model) SetProjectFile(path string) {
	if path == "" {
		m.projectFile = ""
		m.assetRoot = workingDir()
		return
	}
	abs, err := filepath.Abs(expandHome(path))
	if err != nil {
		abs = path
	}
	m.projectFile = abs
	m.assetRoot = filepath.Dir(abs)
}

// ProjectFile returns the current document path, if any.
func (m *Model) ProjectFile() string { return m.projectFile }

// AssetRoot is the directory asset references are relative to.
func (m *Model) AssetRoot() string { return m.assetRoot }

// Normalize converts an asset reference into a slash-separated path relative
// to the asset root. Paths outside the root stay absolute.
func (m *Model) Normalize(value string) string {
	return NormalizeAssetPath(value, m.assetRoot)
}

// Resolve returns the absolute location of an asset reference.
func (m *Model) Resolve(value string) string {
	return ResolveAssetPath(value, m.assetRoot)
}

// NormalizeAssetPath is Model.Normalize for an explicit root.
func NormalizeAssetPath(value, root string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	p := filepath.FromSlash(expandHome(value))
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	p = filepath.Clean(p)
	if root != "" {
		if rel, err := filepath.Rel(filepath.Clean(root), p); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return filepath.ToSlash(rel)
		}
	}
	return filepath.ToSlash(p)
}

// ResolveAssetPath joins a root-relative reference onto root.
func ResolveAssetPath(value, root string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	p := filepath.FromSlash(expandHome(value))
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(root, p)
}

func (m *Model) normalizeAssets(p Payload) {
	for _, ref := range p.assetRefs() {
		*ref = m.Normalize(*ref)
	}
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

// EnsureProjectStructure creates the project directory with its standard
// asset folders and returns the absolute project file path.
func EnsureProjectStructure(projectFile string) (string, error) {
	abs, err := filepath.Abs(expandHome(projectFile))
	if err != nil {
		return "", fmt.Errorf("project path: %w", err)
	}
	dir := filepath.Dir(abs)
	for _, sub := range append([]string{""}, ProjectDirs...) {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return "", fmt.Errorf("create %s: %w", sub, err)
		}
	}
	return abs, nil
}

// AssetRefs lists every distinct asset reference in the model, as stored
// (root-relative where possible), sorted.
func (m *Model) AssetRefs() []string {
	var out []string
	for _, arr := range m.tracks {
		for _, k := range arr {
			for _, ref := range k.Data.assetRefs() {
				if *ref != "" {
					out = append(out, *ref)
				}
			}
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
