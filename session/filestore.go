package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

type fileStore struct {
	root string
}

// NewFileStore creates a Store that keeps one JSON file per session under
// root. Writes go through a temp file and rename so a crash never leaves a
// torn record. The id namespace is flat; ids never contain path separators.
func NewFileStore(root string) (Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session dir: %w", err)
	}
	return &fileStore{root: root}, nil
}

func (s *fileStore) path(id string) string {
	return filepath.Join(s.root, id+".json")
}

func (s *fileStore) Create(ctx context.Context) (*Session, error) {
	sess := &Session{ID: uuid.Must(uuid.NewV7()).String()}
	if err := s.Put(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *fileStore) Get(_ context.Context, id string) (*Session, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrLoadFailed, id, err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLoadFailed, id, err)
	}
	return &sess, nil
}

func (s *fileStore) Put(_ context.Context, sess *Session) error {
	if sess.ID == "" {
		return fmt.Errorf("%w: session has no id", ErrSaveFailed)
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSaveFailed, sess.ID, err)
	}

	tmp, err := os.CreateTemp(s.root, ".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSaveFailed, sess.ID, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: %s: %v", ErrSaveFailed, sess.ID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %s: %v", ErrSaveFailed, sess.ID, err)
	}

	if err := os.Rename(tmpName, s.path(sess.ID)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %s: %v", ErrSaveFailed, sess.ID, err)
	}
	return nil
}

func (s *fileStore) Delete(_ context.Context, id string) error {
	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete failed: %s: %w", id, err)
	}
	return nil
}
