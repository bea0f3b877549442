package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	. "github.com/stevegt/goadapt"
	"github.com/stevegt/semver"
	bolt "go.etcd.io/bbolt"
)

// StoreVersion is the schema version written into new databases.
// Bumping the minor version means a migration is required.
const StoreVersion = "1.0.0"

const (
	metaBucket = "meta"
	convBucket = "conversations"
	msgPrefix  = "messages:"
)

// StoredMessage is one persisted chat message.  Provider and model are
// recorded per turn because the user may switch providers between
// turns without changing persona.  Incomplete marks partial assistant
// output preserved from a failed turn.
type StoredMessage struct {
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
	ProviderID string    `json:"provider_id,omitempty"`
	ModelID    string    `json:"model_id,omitempty"`
	Incomplete bool      `json:"incomplete,omitempty"`
}

// Conversation is a persisted conversation: metadata plus its messages
// in append order.  The persona is snapshotted per conversation so a
// mid-conversation persona switch is an explicit user action.
type Conversation struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Persona   Persona         `json:"persona"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Messages  []StoredMessage `json:"messages,omitempty"`
}

// Store persists conversations in a single bolt database.  Appends are
// atomic; messages come back in append order.  One logical writer per
// conversation is assumed (the cli runs one turn at a time).
type Store struct {
	db *bolt.DB
}

// OpenStore opens or creates the conversation database.
func OpenStore(path string) (s *Store, err error) {
	defer Return(&err)
	err = os.MkdirAll(filepath.Dir(path), 0755)
	Ck(err)
	opts := &bolt.Options{Timeout: 10 * time.Second}
	db, err := bolt.Open(path, 0600, opts)
	Ck(err)
	s = &Store{db: db}
	err = s.checkVersion()
	Ck(err)
	return
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// checkVersion writes the schema version into a new db and refuses to
// open a db written by a newer minor version.
func (s *Store) checkVersion() (err error) {
	defer Return(&err)
	err = s.db.Update(func(tx *bolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists([]byte(metaBucket))
		if err != nil {
			return err
		}
		stored := meta.Get([]byte("version"))
		if stored == nil {
			return meta.Put([]byte("version"), []byte(StoreVersion))
		}
		dbver, err := semver.Parse(stored)
		if err != nil {
			return err
		}
		codever, err := semver.Parse([]byte(StoreVersion))
		if err != nil {
			return err
		}
		cmp, err := semver.Cmp(dbver, codever)
		if err != nil {
			return err
		}
		if cmp > 0 {
			return fmt.Errorf("store is version %s, but this build understands %s -- upgrade loremaster", stored, StoreVersion)
		}
		return nil
	})
	Ck(err)
	return
}

// Create creates a new conversation with the given persona snapshot
// and returns its id.
func (s *Store) Create(persona Persona, title string) (id string, err error) {
	defer Return(&err)
	now := time.Now().UTC()
	id = uuid.NewString()
	if title == "" {
		name := persona.Name
		if name == "" {
			name = persona.Class
		}
		title = Spf("Chat with %s (%s)", name, now.Format("2006-01-02 15:04:05"))
	}
	conv := Conversation{
		ID:        id,
		Title:     title,
		Persona:   persona,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		cb, err := tx.CreateBucketIfNotExists([]byte(convBucket))
		if err != nil {
			return err
		}
		buf, err := json.Marshal(conv)
		if err != nil {
			return err
		}
		if err := cb.Put([]byte(id), buf); err != nil {
			return err
		}
		_, err = tx.CreateBucketIfNotExists([]byte(msgPrefix + id))
		return err
	})
	Ck(err)
	return
}

// Append atomically appends one message to a conversation and bumps
// updated_at.  updated_at never moves backwards even if the message
// carries an older timestamp.
func (s *Store) Append(id string, msg StoredMessage) (err error) {
	defer Return(&err)
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		mb := tx.Bucket([]byte(msgPrefix + id))
		if mb == nil {
			return fmt.Errorf("conversation %q not found", id)
		}
		seq, err := mb.NextSequence()
		if err != nil {
			return err
		}
		buf, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		key := []byte(fmt.Sprintf("%012d", seq))
		if err := mb.Put(key, buf); err != nil {
			return err
		}
		return s.touch(tx, id, msg.CreatedAt)
	})
	Ck(err)
	return
}

// touch advances a conversation's updated_at inside tx.
func (s *Store) touch(tx *bolt.Tx, id string, at time.Time) error {
	cb := tx.Bucket([]byte(convBucket))
	if cb == nil {
		return fmt.Errorf("conversation %q not found", id)
	}
	raw := cb.Get([]byte(id))
	if raw == nil {
		return fmt.Errorf("conversation %q not found", id)
	}
	var conv Conversation
	if err := json.Unmarshal(raw, &conv); err != nil {
		return err
	}
	if at.After(conv.UpdatedAt) {
		conv.UpdatedAt = at
	} else {
		conv.UpdatedAt = conv.UpdatedAt.Add(time.Nanosecond)
	}
	buf, err := json.Marshal(conv)
	if err != nil {
		return err
	}
	return cb.Put([]byte(id), buf)
}

// ReplaceFirstSystem rewrites the first message of a conversation in
// place, provided it is a system message.  A re-compiled system prompt
// replaces the old one rather than appending a duplicate.
func (s *Store) ReplaceFirstSystem(id string, content string) (err error) {
	defer Return(&err)
	err = s.db.Update(func(tx *bolt.Tx) error {
		mb := tx.Bucket([]byte(msgPrefix + id))
		if mb == nil {
			return fmt.Errorf("conversation %q not found", id)
		}
		c := mb.Cursor()
		k, v := c.First()
		if k == nil {
			return fmt.Errorf("conversation %q has no messages", id)
		}
		var msg StoredMessage
		if err := json.Unmarshal(v, &msg); err != nil {
			return err
		}
		if msg.Role != "system" {
			return fmt.Errorf("conversation %q does not start with a system message", id)
		}
		msg.Content = content
		msg.CreatedAt = time.Now().UTC()
		buf, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		if err := mb.Put(k, buf); err != nil {
			return err
		}
		return s.touch(tx, id, msg.CreatedAt)
	})
	Ck(err)
	return
}

// SetPersona replaces a conversation's persona snapshot.  Used when
// the user explicitly edits the persona mid-conversation.
func (s *Store) SetPersona(id string, persona Persona) (err error) {
	defer Return(&err)
	err = s.db.Update(func(tx *bolt.Tx) error {
		cb := tx.Bucket([]byte(convBucket))
		if cb == nil {
			return fmt.Errorf("conversation %q not found", id)
		}
		raw := cb.Get([]byte(id))
		if raw == nil {
			return fmt.Errorf("conversation %q not found", id)
		}
		var conv Conversation
		if err := json.Unmarshal(raw, &conv); err != nil {
			return err
		}
		conv.Persona = persona
		buf, err := json.Marshal(conv)
		if err != nil {
			return err
		}
		return cb.Put([]byte(id), buf)
	})
	Ck(err)
	return
}

// Load returns a conversation with its messages in append order.
func (s *Store) Load(id string) (conv *Conversation, err error) {
	defer Return(&err)
	err = s.db.View(func(tx *bolt.Tx) error {
		cb := tx.Bucket([]byte(convBucket))
		if cb == nil {
			return fmt.Errorf("conversation %q not found", id)
		}
		raw := cb.Get([]byte(id))
		if raw == nil {
			return fmt.Errorf("conversation %q not found", id)
		}
		conv = &Conversation{}
		if err := json.Unmarshal(raw, conv); err != nil {
			return err
		}
		mb := tx.Bucket([]byte(msgPrefix + id))
		if mb == nil {
			return nil
		}
		// bolt cursors iterate in key order; zero-padded seq keys make
		// that append order
		return mb.ForEach(func(k, v []byte) error {
			var msg StoredMessage
			if err := json.Unmarshal(v, &msg); err != nil {
				return err
			}
			conv.Messages = append(conv.Messages, msg)
			return nil
		})
	})
	Ck(err)
	return
}

// List returns conversation metadata (no messages), most recently
// updated first.
func (s *Store) List() (convs []Conversation, err error) {
	defer Return(&err)
	err = s.db.View(func(tx *bolt.Tx) error {
		cb := tx.Bucket([]byte(convBucket))
		if cb == nil {
			return nil
		}
		return cb.ForEach(func(k, v []byte) error {
			var conv Conversation
			if err := json.Unmarshal(v, &conv); err != nil {
				return err
			}
			convs = append(convs, conv)
			return nil
		})
	})
	Ck(err)
	sort.Slice(convs, func(i, j int) bool {
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})
	return
}

// Delete removes a conversation and its messages.
func (s *Store) Delete(id string) (err error) {
	defer Return(&err)
	err = s.db.Update(func(tx *bolt.Tx) error {
		cb := tx.Bucket([]byte(convBucket))
		if cb == nil || cb.Get([]byte(id)) == nil {
			return fmt.Errorf("conversation %q not found", id)
		}
		if err := cb.Delete([]byte(id)); err != nil {
			return err
		}
		if tx.Bucket([]byte(msgPrefix+id)) != nil {
			return tx.DeleteBucket([]byte(msgPrefix + id))
		}
		return nil
	})
	Ck(err)
	return
}
