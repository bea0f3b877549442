package core

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/stevegt/goadapt"
)

func testPersonaStore(t *testing.T) *PersonaStore {
	t.Helper()
	ps, err := NewPersonaStore(filepath.Join(t.TempDir(), "personas"))
	Tassert(t, err == nil, "error creating persona store: %v", err)
	return ps
}

func TestPersonaStoreSaveLoad(t *testing.T) {
	ps := testPersonaStore(t)
	custom := Persona{Codename: "gruff_dwarf", Class: "Warrior", Spec: "Critic", Mode: "Play",
		Name: "Brunhild", Verbosity: 4, Humor: 6, Assertiveness: 9, Creativity: 3}

	err := ps.Save(custom)
	Tassert(t, err == nil, "error saving persona: %v", err)

	got, err := ps.Load("gruff_dwarf")
	Tassert(t, err == nil, "error loading persona: %v", err)
	Tassert(t, got == custom, "persona did not round-trip: %+v", got)
}

func TestPersonaStoreSaveInvalid(t *testing.T) {
	ps := testPersonaStore(t)
	bad := Persona{Codename: "bad", Class: "Necromancer", Spec: "Teacher", Mode: "Work",
		Verbosity: 5, Assertiveness: 5}
	err := ps.Save(bad)
	Tassert(t, err != nil, "expected validation error saving invalid persona")
}

func TestPersonaStoreLoadPreset(t *testing.T) {
	ps := testPersonaStore(t)
	got, err := ps.Load("mage_teacher")
	Tassert(t, err == nil, "error loading preset: %v", err)
	Tassert(t, got.Name == "Archmage Numerius", "expected preset fields, got %+v", got)
}

func TestPersonaStoreLoadUnknown(t *testing.T) {
	ps := testPersonaStore(t)
	_, err := ps.Load("nonexistent")
	Tassert(t, err != nil, "expected error for unknown persona")
}

func TestPersonaStoreCustomShadowsPreset(t *testing.T) {
	ps := testPersonaStore(t)
	shadow, _ := FindPreset("mage_teacher")
	shadow.Verbosity = 2
	err := ps.Save(shadow)
	Tassert(t, err == nil, "error saving shadow persona: %v", err)

	got, err := ps.Load("mage_teacher")
	Tassert(t, err == nil, "error loading persona: %v", err)
	Tassert(t, got.Verbosity == 2, "custom persona did not shadow preset")

	// the listing carries the shadow once, not preset and custom both
	personas, err := ps.List()
	Tassert(t, err == nil, "error listing personas: %v", err)
	count := 0
	for _, p := range personas {
		if p.Codename == "mage_teacher" {
			count++
			Tassert(t, p.Verbosity == 2, "listing shows preset instead of shadow")
		}
	}
	Tassert(t, count == 1, "expected 1 mage_teacher in listing, got %d", count)
}

func TestPersonaStoreListSkipsCorrupt(t *testing.T) {
	ps := testPersonaStore(t)
	err := os.WriteFile(filepath.Join(ps.dir, "broken.json"), []byte("{not json"), 0644)
	Tassert(t, err == nil, "error writing corrupt file: %v", err)

	personas, err := ps.List()
	Tassert(t, err == nil, "listing failed on corrupt file: %v", err)
	Tassert(t, len(personas) == len(Presets), "expected presets only, got %d", len(personas))
}

func TestPersonaStoreDelete(t *testing.T) {
	ps := testPersonaStore(t)
	custom := Persona{Codename: "temp", Class: "Bard", Spec: "Speed", Mode: "Play",
		Verbosity: 3, Humor: 5, Assertiveness: 5, Creativity: 5}
	err := ps.Save(custom)
	Tassert(t, err == nil, "error saving persona: %v", err)
	err = ps.Delete("temp")
	Tassert(t, err == nil, "error deleting persona: %v", err)
	_, err = ps.Load("temp")
	Tassert(t, err != nil, "expected error loading deleted persona")
}
