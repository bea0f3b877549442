package core

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	. "github.com/stevegt/goadapt"
	bolt "go.etcd.io/bbolt"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(filepath.Join(t.TempDir(), "conversations.db"))
	Tassert(t, err == nil, "error opening store: %v", err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testPersona() Persona {
	p, _ := FindPreset("mage_teacher")
	return p
}

func TestStoreAppendOrder(t *testing.T) {
	s := testStore(t)
	id, err := s.Create(testPersona(), "")
	Tassert(t, err == nil, "error creating conversation: %v", err)

	rows := []StoredMessage{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi there", ProviderID: "ollama", ModelID: "llama3.2"},
		{Role: "user", Content: "more"},
	}
	for _, m := range rows {
		err = s.Append(id, m)
		Tassert(t, err == nil, "error appending: %v", err)
	}

	conv, err := s.Load(id)
	Tassert(t, err == nil, "error loading: %v", err)
	Tassert(t, len(conv.Messages) == len(rows), "expected %d messages, got %d", len(rows), len(conv.Messages))
	for i, m := range conv.Messages {
		Tassert(t, m.Role == rows[i].Role, "message %d: expected role %s, got %s", i, rows[i].Role, m.Role)
		Tassert(t, m.Content == rows[i].Content, "message %d: content mismatch", i)
	}
	Tassert(t, conv.Messages[2].ProviderID == "ollama", "expected provider recorded on assistant row")
	Tassert(t, conv.Messages[2].ModelID == "llama3.2", "expected model recorded on assistant row")
}

func TestStoreUpdatedAtMonotonic(t *testing.T) {
	s := testStore(t)
	id, err := s.Create(testPersona(), "")
	Tassert(t, err == nil, "error creating conversation: %v", err)
	conv, err := s.Load(id)
	Tassert(t, err == nil, "error loading: %v", err)
	prev := conv.UpdatedAt

	// an append carrying an old timestamp must still advance updated_at
	old := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		err = s.Append(id, StoredMessage{Role: "user", Content: "x", CreatedAt: old})
		Tassert(t, err == nil, "error appending: %v", err)
		conv, err = s.Load(id)
		Tassert(t, err == nil, "error loading: %v", err)
		Tassert(t, conv.UpdatedAt.After(prev), "updated_at did not advance: %v <= %v", conv.UpdatedAt, prev)
		prev = conv.UpdatedAt
	}
}

func TestStoreReplaceFirstSystem(t *testing.T) {
	s := testStore(t)
	id, err := s.Create(testPersona(), "")
	Tassert(t, err == nil, "error creating conversation: %v", err)
	err = s.Append(id, StoredMessage{Role: "system", Content: "old prompt"})
	Tassert(t, err == nil, "error appending: %v", err)
	err = s.Append(id, StoredMessage{Role: "user", Content: "hello"})
	Tassert(t, err == nil, "error appending: %v", err)

	err = s.ReplaceFirstSystem(id, "new prompt")
	Tassert(t, err == nil, "error replacing system message: %v", err)

	conv, err := s.Load(id)
	Tassert(t, err == nil, "error loading: %v", err)
	Tassert(t, len(conv.Messages) == 2, "expected 2 messages, got %d", len(conv.Messages))
	Tassert(t, conv.Messages[0].Content == "new prompt", "system message not replaced: %q", conv.Messages[0].Content)
	Tassert(t, conv.Messages[1].Content == "hello", "user message clobbered")
}

func TestStoreReplaceFirstSystemNotSystem(t *testing.T) {
	s := testStore(t)
	id, err := s.Create(testPersona(), "")
	Tassert(t, err == nil, "error creating conversation: %v", err)
	err = s.Append(id, StoredMessage{Role: "user", Content: "hello"})
	Tassert(t, err == nil, "error appending: %v", err)
	err = s.ReplaceFirstSystem(id, "new prompt")
	Tassert(t, err != nil, "expected error replacing non-system first message")
}

func TestStoreListOrder(t *testing.T) {
	s := testStore(t)
	a, err := s.Create(testPersona(), "first")
	Tassert(t, err == nil, "error creating conversation: %v", err)
	b, err := s.Create(testPersona(), "second")
	Tassert(t, err == nil, "error creating conversation: %v", err)

	// touching a makes it the most recently updated
	err = s.Append(a, StoredMessage{Role: "user", Content: "bump"})
	Tassert(t, err == nil, "error appending: %v", err)

	convs, err := s.List()
	Tassert(t, err == nil, "error listing: %v", err)
	Tassert(t, len(convs) == 2, "expected 2 conversations, got %d", len(convs))
	Tassert(t, convs[0].ID == a, "expected %s first, got %s", a, convs[0].ID)
	Tassert(t, convs[1].ID == b, "expected %s second, got %s", b, convs[1].ID)
	// list carries metadata only
	Tassert(t, len(convs[0].Messages) == 0, "expected no messages in list results")
}

func TestStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conversations.db")
	s, err := OpenStore(path)
	Tassert(t, err == nil, "error opening store: %v", err)
	id, err := s.Create(testPersona(), "persisted")
	Tassert(t, err == nil, "error creating conversation: %v", err)
	err = s.Append(id, StoredMessage{Role: "user", Content: "hello"})
	Tassert(t, err == nil, "error appending: %v", err)
	err = s.Close()
	Tassert(t, err == nil, "error closing: %v", err)

	s, err = OpenStore(path)
	Tassert(t, err == nil, "error reopening store: %v", err)
	defer s.Close()
	conv, err := s.Load(id)
	Tassert(t, err == nil, "error loading after reopen: %v", err)
	Tassert(t, conv.Title == "persisted", "title lost across reopen")
	Tassert(t, len(conv.Messages) == 1, "messages lost across reopen")
	Tassert(t, conv.Persona.Codename == "mage_teacher", "persona snapshot lost across reopen")
}

func TestStoreRefusesNewerVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conversations.db")
	s, err := OpenStore(path)
	Tassert(t, err == nil, "error opening store: %v", err)
	err = s.Close()
	Tassert(t, err == nil, "error closing: %v", err)

	// a db stamped by a future build must be refused, not migrated away
	db, err := bolt.Open(path, 0600, nil)
	Tassert(t, err == nil, "error reopening raw db: %v", err)
	err = db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(metaBucket)).Put([]byte("version"), []byte("99.0.0"))
	})
	Tassert(t, err == nil, "error stamping version: %v", err)
	err = db.Close()
	Tassert(t, err == nil, "error closing raw db: %v", err)

	_, err = OpenStore(path)
	Tassert(t, err != nil, "expected error opening newer-versioned store")
	Tassert(t, strings.Contains(err.Error(), "99.0.0"), "error should name the store version: %v", err)
}

func TestStoreDelete(t *testing.T) {
	s := testStore(t)
	id, err := s.Create(testPersona(), "")
	Tassert(t, err == nil, "error creating conversation: %v", err)
	err = s.Delete(id)
	Tassert(t, err == nil, "error deleting: %v", err)
	_, err = s.Load(id)
	Tassert(t, err != nil, "expected error loading deleted conversation")
	err = s.Delete(id)
	Tassert(t, err != nil, "expected error deleting twice")
}

func TestStoreSetPersona(t *testing.T) {
	s := testStore(t)
	id, err := s.Create(testPersona(), "")
	Tassert(t, err == nil, "error creating conversation: %v", err)
	p, _ := FindPreset("rogue_speed")
	err = s.SetPersona(id, p)
	Tassert(t, err == nil, "error setting persona: %v", err)
	conv, err := s.Load(id)
	Tassert(t, err == nil, "error loading: %v", err)
	Tassert(t, conv.Persona.Codename == "rogue_speed", "persona not replaced: %s", conv.Persona.Codename)
}
