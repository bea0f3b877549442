package core

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gofrs/flock"
	. "github.com/stevegt/goadapt"
)

// PersonaStore persists user-edited personas as one JSON file per
// codename under dir.  A directory-wide flock serializes writers so
// two processes can't tear a persona file.
type PersonaStore struct {
	dir string
}

// NewPersonaStore creates the persona directory if needed.
func NewPersonaStore(dir string) (ps *PersonaStore, err error) {
	defer Return(&err)
	err = os.MkdirAll(dir, 0755)
	Ck(err)
	ps = &PersonaStore{dir: dir}
	return
}

func (ps *PersonaStore) lockPath() string {
	return filepath.Join(ps.dir, ".lock")
}

func (ps *PersonaStore) path(codename string) string {
	return filepath.Join(ps.dir, codename+".json")
}

// Save writes a custom persona.  The persona must validate; a custom
// persona with the same codename as a preset shadows the preset.
func (ps *PersonaStore) Save(p Persona) (err error) {
	defer Return(&err)
	err = p.Validate()
	Ck(err)

	lock := flock.New(ps.lockPath())
	err = lock.Lock()
	Ck(err)
	defer lock.Unlock()

	buf, err := json.MarshalIndent(p, "", "  ")
	Ck(err)
	tmp := ps.path(p.Codename) + ".tmp"
	err = os.WriteFile(tmp, buf, 0644)
	Ck(err)
	err = os.Rename(tmp, ps.path(p.Codename))
	Ck(err)
	return
}

// Load returns a persona by codename, checking custom personas first,
// then the preset catalog.
func (ps *PersonaStore) Load(codename string) (p Persona, err error) {
	defer Return(&err)
	buf, rerr := os.ReadFile(ps.path(codename))
	if rerr == nil {
		err = json.Unmarshal(buf, &p)
		Ck(err)
		return
	}
	p, ok := FindPreset(codename)
	if !ok {
		err = validationf("unknown persona: %q", codename)
	}
	return
}

// Delete removes a custom persona.  Presets cannot be deleted.
func (ps *PersonaStore) Delete(codename string) (err error) {
	defer Return(&err)
	lock := flock.New(ps.lockPath())
	err = lock.Lock()
	Ck(err)
	defer lock.Unlock()
	err = os.Remove(ps.path(codename))
	Ck(err)
	return
}

// List returns presets plus custom personas, customs shadowing
// presets with the same codename, sorted by codename.
func (ps *PersonaStore) List() (out []Persona, err error) {
	defer Return(&err)
	seen := make(map[string]Persona)
	for _, p := range Presets {
		seen[p.Codename] = p
	}

	entries, err := os.ReadDir(ps.dir)
	Ck(err)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		buf, rerr := os.ReadFile(filepath.Join(ps.dir, e.Name()))
		if rerr != nil {
			continue
		}
		var p Persona
		if json.Unmarshal(buf, &p) != nil || p.Validate() != nil {
			// skip corrupt files rather than failing the listing
			continue
		}
		seen[p.Codename] = p
	}

	for _, p := range seen {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Codename < out[j].Codename
	})
	return
}
