package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var sessionBucket = []byte("sessions")

// BoltStore is a Store backed by a bbolt database file. It is the durable
// backend intended for real deployments; Close must be called when the store
// is no longer needed.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if necessary) the bbolt database at path and
// ensures the session bucket exists.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open session db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init session bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Close releases the underlying database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Create(ctx context.Context) (*Session, error) {
	sess := &Session{ID: uuid.Must(uuid.NewV7()).String()}
	if err := s.Put(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *BoltStore) Get(_ context.Context, id string) (*Session, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(sessionBucket).Get([]byte(id)); v != nil {
			data = make([]byte, len(v))
			copy(data, v)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLoadFailed, id, err)
	}
	if data == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLoadFailed, id, err)
	}
	return &sess, nil
}

func (s *BoltStore) Put(_ context.Context, sess *Session) error {
	if sess.ID == "" {
		return fmt.Errorf("%w: session has no id", ErrSaveFailed)
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSaveFailed, sess.ID, err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionBucket).Put([]byte(sess.ID), data)
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSaveFailed, sess.ID, err)
	}
	return nil
}

func (s *BoltStore) Delete(_ context.Context, id string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionBucket).Delete([]byte(id))
	})
	if err != nil {
		return fmt.Errorf("delete failed: %s: %w", id, err)
	}
	return nil
}
