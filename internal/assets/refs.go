package assets

import (
	"sort"

	"github.com/ivlev/vngen/internal/timeline"
)

// ImagePaths lists the resolved, de-duplicated image files the visual
// tracks and menus of m refer to, sorted.
func ImagePaths(m *timeline.Model) []string {
	seen := map[string]bool{}
	addRef := func(v string) {
		if v == "" {
			return
		}
		p := m.Resolve(v)
		if IsImage(p) {
			seen[p] = true
		}
	}

	for _, k := range m.Keyframes(timeline.Background) {
		if d, ok := k.Data.(*timeline.BackgroundData); ok {
			addRef(d.Value)
		}
	}
	for _, k := range m.Keyframes(timeline.Sprite) {
		if d, ok := k.Data.(*timeline.SpriteData); ok {
			addRef(d.Value)
		}
	}
	for _, k := range m.Keyframes(timeline.Menu) {
		if d, ok := k.Data.(*timeline.MenuData); ok {
			addRef(d.Background)
		}
	}

	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
