package timeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"
)

// Format selects the document syntax.
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

// FormatFor picks the syntax from a file extension; anything that is not
// .yaml or .yml is JSON.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatJSON
}

type documentEntry struct {
	T     float64        `json:"t" yaml:"t"`
	Track string         `json:"track" yaml:"track"`
	Data  map[string]any `json:"data" yaml:"data"`
	ID    int            `json:"id" yaml:"id"`
}

type document struct {
	Duration float64                    `json:"duration" yaml:"duration"`
	Tracks   map[string][]documentEntry `json:"tracks" yaml:"tracks"`
}

// Marshal renders the model as a project document. Asset references are
// written relative to the asset root.
func (m *Model) Marshal(f Format) ([]byte, error) {
	doc := document{Duration: m.duration, Tracks: make(map[string][]documentEntry, numTracks)}
	for _, t := range Tracks {
		entries := make([]documentEntry, 0, len(m.tracks[t]))
		for _, k := range m.tracks[t] {
			m.normalizeAssets(k.Data)
			data := EncodePayload(k.Data)
			data["duration"] = k.Duration
			entries = append(entries, documentEntry{T: k.Time, Track: t.String(), Data: data, ID: k.ID})
		}
		doc.Tracks[t.String()] = entries
	}

	switch f {
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(&doc); err != nil {
			return nil, fmt.Errorf("encode yaml: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("encode yaml: %w", err)
		}
		return buf.Bytes(), nil
	default:
		data, err := json.MarshalIndent(&doc, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode json: %w", err)
		}
		return append(data, '\n'), nil
	}
}

// decoded is a fully validated document waiting to replace the model state.
type decoded struct {
	tracks   [numTracks][]*Keyframe
	duration float64
	nextID   int
}

// Unmarshal replaces the model content with a document. projectFile, when
// set, becomes the new asset root. On error the model is left untouched.
func (m *Model) Unmarshal(data []byte, f Format, projectFile string) error {
	var raw any
	switch f {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("%w: %w", ErrDecode, err)
		}
	default:
		if len(bytes.TrimSpace(data)) > 0 {
			if err := json.Unmarshal(data, &raw); err != nil {
				return fmt.Errorf("%w: %w", ErrDecode, err)
			}
		}
	}

	root := m.assetRoot
	if projectFile != "" {
		if abs, err := filepath.Abs(expandHome(projectFile)); err == nil {
			root = filepath.Dir(abs)
		}
	}

	st, err := m.decodeDocument(raw, root)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}

	if projectFile != "" {
		m.SetProjectFile(projectFile)
	}
	m.tracks = st.tracks
	m.duration = st.duration
	m.nextID = st.nextID
	for _, fn := range m.observers {
		fn(AllTracks)
	}
	m.dirty = false
	return nil
}

func (m *Model) decodeDocument(raw any, root string) (*decoded, error) {
	st := &decoded{duration: MinDuration, nextID: 1}
	if raw == nil {
		return st, nil
	}
	top, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("document root is %T, want mapping", raw)
	}

	stored := 0.0
	if v, ok := top["duration"]; ok && v != nil {
		d, err := toFloat(v)
		if err != nil {
			return nil, fmt.Errorf("duration: %w", err)
		}
		stored = d
	}

	var tracksRaw map[string]any
	if v, ok := top["tracks"]; ok && v != nil {
		tracksRaw, ok = v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("tracks is %T, want mapping", v)
		}
	}

	// Stable iteration so id reassignment does not depend on map order.
	names := make([]string, 0, len(tracksRaw))
	for name := range tracksRaw {
		names = append(names, name)
	}
	slices.Sort(names)

	var needID []*Keyframe
	seen := make(map[int]bool)
	maxID := 0

	for _, name := range names {
		tr, err := ParseTrack(name)
		if err != nil {
			m.log.Warn("skipping unknown track", "track", name)
			continue
		}
		list, ok := tracksRaw[name].([]any)
		if !ok && tracksRaw[name] != nil {
			return nil, fmt.Errorf("track %s is %T, want list", name, tracksRaw[name])
		}
		for i, item := range list {
			k, err := decodeEntry(tr, item)
			if err != nil {
				return nil, fmt.Errorf("track %s[%d]: %w", name, i, err)
			}
			for _, ref := range k.Data.assetRefs() {
				*ref = NormalizeAssetPath(ResolveAssetPath(*ref, root), root)
			}
			if k.ID <= 0 || seen[k.ID] {
				needID = append(needID, k)
			} else {
				seen[k.ID] = true
				maxID = max(maxID, k.ID)
			}
			st.tracks[tr] = append(st.tracks[tr], k)
		}
	}

	st.nextID = maxID + 1
	for _, k := range needID {
		k.ID = st.nextID
		st.nextID++
	}

	longest := 0.0
	for t := range st.tracks {
		slices.SortStableFunc(st.tracks[t], func(a, b *Keyframe) int {
			switch {
			case a.Time < b.Time:
				return -1
			case a.Time > b.Time:
				return 1
			}
			return 0
		})
		for _, k := range st.tracks[t] {
			longest = max(longest, k.End())
		}
	}
	st.duration = max(stored, longest, MinDuration)
	return st, nil
}

func decodeEntry(tr Track, item any) (*Keyframe, error) {
	e, ok := item.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("entry is %T, want mapping", item)
	}
	r := newFieldReader(e)
	k := &Keyframe{
		Time:  r.float(0, "t", "time"),
		Track: tr,
		ID:    r.int(-1, "id"),
	}
	if r.err != nil {
		return nil, r.err
	}
	if k.Time < 0 {
		k.Time = 0
	}

	var data map[string]any
	if v, ok := e["data"]; ok && v != nil {
		data, ok = v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("data is %T, want mapping", v)
		}
	}
	p, err := DecodePayload(tr, data)
	if err != nil {
		return nil, err
	}
	k.Data = p

	k.Duration = tr.DefaultDuration()
	if v, ok := data["duration"]; ok && v != nil {
		d, err := toFloat(v)
		if err != nil {
			return nil, fmt.Errorf("field \"duration\": %w", err)
		}
		k.Duration = d
	}
	return k, nil
}

// LoadFile reads a project document from disk.
func (m *Model) LoadFile(path string) error {
	data, err := os.ReadFile(expandHome(path))
	if err != nil {
		return fmt.Errorf("read project: %w", err)
	}
	return m.Unmarshal(data, FormatFor(path), path)
}

// assetSnapshot remembers the project file and every asset reference so a
// failed save can put them back.
type assetSnapshot struct {
	projectFile string
	assetRoot   string
	refs        []*string
	values      []string
}

func (m *Model) snapshotAssets() *assetSnapshot {
	s := &assetSnapshot{projectFile: m.projectFile, assetRoot: m.assetRoot}
	for _, arr := range m.tracks {
		for _, k := range arr {
			for _, ref := range k.Data.assetRefs() {
				s.refs = append(s.refs, ref)
				s.values = append(s.values, *ref)
			}
		}
	}
	return s
}

func (m *Model) restoreAssets(s *assetSnapshot) {
	m.projectFile, m.assetRoot = s.projectFile, s.assetRoot
	for i, ref := range s.refs {
		*ref = s.values[i]
	}
}

// SaveFile writes the project document under an exclusive lock, replacing
// the target atomically. Saving to a new location re-bases asset references
// onto the new project directory. If the save fails the model keeps its
// previous project file and references.
func (m *Model) SaveFile(path string) (err error) {
	abs, err := EnsureProjectStructure(path)
	if err != nil {
		return err
	}

	prev := m.snapshotAssets()
	defer func() {
		if err != nil {
			m.restoreAssets(prev)
		}
	}()

	m.SetProjectFile(abs)
	if prev.assetRoot != m.assetRoot {
		for i, ref := range prev.refs {
			*ref = NormalizeAssetPath(ResolveAssetPath(prev.values[i], prev.assetRoot), m.assetRoot)
		}
	}

	data, err := m.Marshal(FormatFor(abs))
	if err != nil {
		return err
	}

	lock := flock.New(abs + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock project: %w", err)
	}
	if !locked {
		return fmt.Errorf("project %s is being saved by another process", abs)
	}
	defer func() {
		_ = lock.Unlock()
		_ = os.Remove(abs + ".lock")
	}()

	tmp, err := os.CreateTemp(filepath.Dir(abs), "."+filepath.Base(abs)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write project: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write project: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace project: %w", err)
	}

	m.dirty = false
	return nil
}
