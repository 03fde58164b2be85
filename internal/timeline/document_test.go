package timeline

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/gofrs/flock"
)

const sampleDoc = `{
  "duration": 12,
  "tracks": {
    "BG": [
      {"t": 0, "track": "BG", "id": 7, "data": {"value": "bg/hall.png", "duration": 10, "fit": "contain", "mood": "dark"}}
    ],
    "DIALOG": [
      {"t": 2, "track": "DIALOG", "id": 3, "data": {"speaker": "Ann", "text": "Hello", "cps": 10, "duration": 3}}
    ],
    "MENU": [
      {"t": 5, "track": "MENU", "id": 4, "data": {
        "prompt": "Where?",
        "background": "menu.bg",
        "options": [{"text": "A", "target": "10.0"}, {"text": "B", "target": "Start", "logic": {"type": "pause"}}, "C"]
      }}
    ],
    "LOGIC": [
      {"t": 0, "track": "LOGIC", "id": 3, "data": {"type": "label", "name": "Start"}}
    ],
    "HOLOGRAM": [
      {"t": 1, "data": {}}
    ]
  }
}`

func TestUnmarshalDocument(t *testing.T) {
	dir := t.TempDir()
	m := NewModel()
	if err := m.Unmarshal([]byte(sampleDoc), FormatJSON, filepath.Join(dir, "story.json")); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if m.Dirty() {
		t.Error("freshly loaded model must be clean")
	}
	if m.Duration() != MinDuration {
		t.Errorf("duration = %v, want floor %v (menu ends at 35)", m.Duration(), MinDuration)
	}

	bg, ok := m.Find(Background, 7)
	if !ok {
		t.Fatal("BG id 7 not preserved")
	}
	bd := bg.Data.(*BackgroundData)
	if bd.Value != "bg/hall.png" || bd.Fit != FitContain || bd.Extra["mood"] != "dark" {
		t.Errorf("BG payload = %+v", bd)
	}
	if bg.Duration != 10 {
		t.Errorf("BG duration = %v", bg.Duration)
	}

	// duplicate id 3 is reassigned past the maximum
	if _, ok := m.Find(Dialog, 3); !ok {
		t.Error("first id 3 should be kept (DIALOG sorts before LOGIC)")
	}
	lbl := m.Keyframes(Logic)[0]
	if lbl.ID != 8 {
		t.Errorf("duplicate id reassigned to %d, want 8", lbl.ID)
	}

	menu := m.Keyframes(Menu)[0]
	md := menu.Data.(*MenuData)
	if menu.Duration != 30 {
		t.Errorf("menu default duration = %v", menu.Duration)
	}
	if len(md.Options) != 3 || md.Options[0].Target != "10.0" || md.Options[2].Text != "C" {
		t.Fatalf("options = %+v", md.Options)
	}
	if len(md.Options[1].Logic) != 1 || md.Options[1].Logic[0].Kind != "pause" {
		t.Errorf("option logic = %+v", md.Options[1].Logic)
	}

	id, _ := m.Add(SFX, &Keyframe{Time: 1}, false)
	if id != 9 {
		t.Errorf("next id = %d, want 9", id)
	}
}

func TestUnmarshalIsAllOrNothing(t *testing.T) {
	m := NewModel()
	if err := m.Unmarshal([]byte(sampleDoc), FormatJSON, ""); err != nil {
		t.Fatal(err)
	}
	before := m.Len()

	bad := []string{
		`{"tracks": {"BG": [{"t": "soon", "data": {}}]}}`,
		`{"tracks": {"DIALOG": [{"t": 1, "data": {"cps": "fast"}}]}}`,
		`{"tracks": {"MENU": [{"t": 1, "data": {"options": 5}}]}}`,
		`{"tracks": []}`,
		`[1, 2, 3]`,
		`{"duration": `,
	}
	for _, doc := range bad {
		err := m.Unmarshal([]byte(doc), FormatJSON, "")
		if !errors.Is(err, ErrDecode) {
			t.Errorf("%s: err = %v, want ErrDecode", doc, err)
		}
		if m.Len() != before {
			t.Fatalf("%s: model changed after failed load", doc)
		}
	}
}

func TestUnmarshalRejectsNonFinite(t *testing.T) {
	m := NewModel()
	if err := m.Unmarshal([]byte(sampleDoc), FormatJSON, ""); err != nil {
		t.Fatal(err)
	}
	before, dur := m.Len(), m.Duration()

	bad := []string{
		"duration: .nan\n",
		"duration: .inf\n",
		"tracks:\n  DIALOG:\n    - t: .nan\n      data: {text: hi}\n",
		"tracks:\n  BG:\n    - t: -.inf\n      data: {value: a.png}\n",
		"tracks:\n  MUSIC:\n    - t: 1\n      data: {value: a.ogg, duration: .inf}\n",
		"tracks:\n  SPRITE:\n    - t: 1\n      data: {value: a.png, opacity: .nan}\n",
	}
	for _, doc := range bad {
		err := m.Unmarshal([]byte(doc), FormatYAML, "")
		if !errors.Is(err, ErrDecode) {
			t.Errorf("%q: err = %v, want ErrDecode", doc, err)
		}
		if m.Len() != before || m.Duration() != dur {
			t.Fatalf("%q: model changed after failed load", doc)
		}
	}
}

func TestEditsKeepTimesFinite(t *testing.T) {
	m := NewModel()
	if _, err := m.Add(Dialog, &Keyframe{Time: math.NaN()}, false); err == nil {
		t.Error("NaN start accepted")
	}
	if _, err := m.Add(Dialog, &Keyframe{Time: math.Inf(1)}, false); err == nil {
		t.Error("+Inf start accepted")
	}
	if m.Len() != 0 {
		t.Fatalf("rejected keyframes were stored: %d", m.Len())
	}

	id, err := m.Add(Dialog, &Keyframe{Time: 2, Duration: math.Inf(1)}, false)
	if err != nil {
		t.Fatal(err)
	}
	k, _ := m.Find(Dialog, id)
	if k.Duration != Dialog.DefaultDuration() {
		t.Errorf("infinite duration kept: %v", k.Duration)
	}

	if err := m.Move(Dialog, id, math.NaN()); err != nil {
		t.Fatal(err)
	}
	if err := m.SetDuration(Dialog, id, math.Inf(-1)); err != nil {
		t.Fatal(err)
	}
	if k.Time != 2 || k.Duration != Dialog.DefaultDuration() {
		t.Errorf("non-finite edit applied: time %v duration %v", k.Time, k.Duration)
	}
	if d := m.Duration(); math.IsNaN(d) || math.IsInf(d, 0) || d < MinDuration {
		t.Errorf("duration = %v", d)
	}
}

func TestSaveReloadStable(t *testing.T) {
	for _, name := range []string{"story.json", "story.yaml"} {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, name)

			m := NewModel()
			m.SetProjectFile(path)
			if err := m.Unmarshal([]byte(sampleDoc), FormatJSON, path); err != nil {
				t.Fatal(err)
			}
			// absolute reference inside the project is stored relative
			abs := filepath.Join(dir, "sprites", "ann.png")
			if _, err := m.Add(Sprite, &Keyframe{Time: 1, Data: &SpriteData{Value: abs, Pose: DefaultPose}}, false); err != nil {
				t.Fatal(err)
			}
			if err := m.SaveFile(path); err != nil {
				t.Fatalf("SaveFile: %v", err)
			}
			if m.Dirty() {
				t.Error("save must clear dirty")
			}
			first, err := os.ReadFile(path)
			if err != nil {
				t.Fatal(err)
			}

			m2 := NewModel()
			if err := m2.LoadFile(path); err != nil {
				t.Fatalf("LoadFile: %v", err)
			}
			spr := m2.Keyframes(Sprite)[0].Data.(*SpriteData)
			if spr.Value != "sprites/ann.png" {
				t.Errorf("sprite value = %q, want root-relative", spr.Value)
			}
			if got := m2.Resolve(spr.Value); got != abs {
				t.Errorf("resolve = %q, want %q", got, abs)
			}
			if _, ok := m2.Find(Background, 7); !ok {
				t.Error("ids lost in round trip")
			}

			if err := m2.SaveFile(path); err != nil {
				t.Fatal(err)
			}
			second, _ := os.ReadFile(path)
			if !bytes.Equal(first, second) {
				t.Errorf("re-save changed the document:\n%s\n---\n%s", first, second)
			}

			for _, sub := range ProjectDirs {
				if fi, err := os.Stat(filepath.Join(dir, sub)); err != nil || !fi.IsDir() {
					t.Errorf("project dir %s missing", sub)
				}
			}
			if _, err := os.Stat(path + ".lock"); !os.IsNotExist(err) {
				t.Error("lock file left behind")
			}
		})
	}
}

func TestSaveRebasesAssets(t *testing.T) {
	oldDir := t.TempDir()
	newDir := filepath.Join(t.TempDir(), "copy")

	m := NewModel()
	m.SetProjectFile(filepath.Join(oldDir, "a.json"))
	id, _ := m.Add(Background, &Keyframe{Data: &BackgroundData{Value: "bg/x.png"}}, false)

	if err := m.SaveFile(filepath.Join(newDir, "a.json")); err != nil {
		t.Fatal(err)
	}
	k, _ := m.Find(Background, id)
	want := filepath.ToSlash(filepath.Join(oldDir, "bg", "x.png"))
	if got := k.Data.(*BackgroundData).Value; got != want {
		t.Errorf("rebased value = %q, want %q", got, want)
	}
}

func TestFailedSaveKeepsModel(t *testing.T) {
	oldDir := t.TempDir()
	newDir := filepath.Join(t.TempDir(), "copy")
	if err := os.MkdirAll(newDir, 0o755); err != nil {
		t.Fatal(err)
	}
	dst := filepath.Join(newDir, "a.json")

	m := NewModel()
	m.SetProjectFile(filepath.Join(oldDir, "a.json"))
	id, _ := m.Add(Background, &Keyframe{Data: &BackgroundData{Value: "bg/x.png"}}, false)
	project := m.ProjectFile()

	held := flock.New(dst + ".lock")
	locked, err := held.TryLock()
	if err != nil || !locked {
		t.Fatalf("TryLock: %v %v", locked, err)
	}
	defer held.Unlock()

	if err := m.SaveFile(dst); err == nil {
		t.Fatal("save succeeded while the project was locked")
	}
	if m.ProjectFile() != project {
		t.Errorf("project file = %q, want %q", m.ProjectFile(), project)
	}
	k, _ := m.Find(Background, id)
	if got := k.Data.(*BackgroundData).Value; got != "bg/x.png" {
		t.Errorf("value = %q after failed save", got)
	}
	if m.Resolve("bg/x.png") != filepath.Join(oldDir, "bg", "x.png") {
		t.Errorf("asset root moved to %q", m.AssetRoot())
	}
	if !m.Dirty() {
		t.Error("failed save cleared dirty")
	}
	if _, err := os.Stat(dst); !os.IsNotExist(err) {
		t.Error("document written despite the lock")
	}
}

func TestParseTrack(t *testing.T) {
	tests := []struct {
		in   string
		want Track
		ok   bool
	}{
		{"BG", Background, true},
		{"background", Background, true},
		{" sprite ", Sprite, true},
		{"LOGIC", Logic, true},
		{"VIDEO", 0, false},
	}
	for _, tt := range tests {
		got, err := ParseTrack(tt.in)
		if (err == nil) != tt.ok || (tt.ok && got != tt.want) {
			t.Errorf("ParseTrack(%q) = %v, %v", tt.in, got, err)
		}
	}
}
