// Package files manages the on-disk part of the archive: one JSON record per
// post under posts/ and downloaded attachments under media/.
package files

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"mastodon_archiver/internal/domain"
)

const (
	PostsDir = "posts"
	MediaDir = "media"
)

// ErrUnsafePath is returned for post ids or paths that would leave the archive root.
var ErrUnsafePath = errors.New("path escapes the archive root")

type Store struct {
	root string
}

// New creates the archive directory layout under root if it is missing.
func New(root string) (*Store, error) {
	for _, dir := range []string{root, filepath.Join(root, PostsDir), filepath.Join(root, MediaDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create archive directory %s: %w", dir, err)
		}
	}
	return &Store{root: root}, nil
}

// PostPath returns the record path of a post relative to the archive root.
func PostPath(postID string) string {
	return filepath.Join(PostsDir, postID+".json")
}

// Abs resolves a path relative to the archive root.
func (s *Store) Abs(rel string) string {
	return filepath.Join(s.root, rel)
}

func (s *Store) Exists(rel string) bool {
	info, err := os.Stat(s.Abs(rel))
	return err == nil && info.Mode().IsRegular()
}

// WritePostIfAbsent writes the post record unless one already exists. An
// existing record is never rewritten.
func (s *Store) WritePostIfAbsent(post *domain.ArchivedPost) (bool, error) {
	if !domain.IsSafeID(post.ID) {
		return false, fmt.Errorf("write post %q: %w", post.ID, ErrUnsafePath)
	}
	rel := PostPath(post.ID)
	if s.Exists(rel) {
		return false, nil
	}

	data, err := json.MarshalIndent(post, "", "  ")
	if err != nil {
		return false, fmt.Errorf("marshal post %s: %w", post.ID, err)
	}

	if err := s.WriteAtomic(rel, bytes.NewReader(data)); err != nil {
		return false, err
	}
	return true, nil
}

// ReadPost loads a previously written record.
func (s *Store) ReadPost(postID string) (*domain.ArchivedPost, error) {
	if !domain.IsSafeID(postID) {
		return nil, fmt.Errorf("read post %q: %w", postID, ErrUnsafePath)
	}
	data, err := os.ReadFile(s.Abs(PostPath(postID)))
	if err != nil {
		return nil, fmt.Errorf("read post %s: %w", postID, err)
	}
	var post domain.ArchivedPost
	if err := json.Unmarshal(data, &post); err != nil {
		return nil, fmt.Errorf("decode post %s: %w", postID, err)
	}
	return &post, nil
}

// WriteAtomic copies r into a temporary file next to rel and renames it into
// place, so readers never observe a partial file.
func (s *Store) WriteAtomic(rel string, r io.Reader) error {
	if !filepath.IsLocal(rel) {
		return fmt.Errorf("write %s: %w", rel, ErrUnsafePath)
	}
	target := s.Abs(rel)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", rel, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temporary file for %s: %w", rel, err)
	}
	tmpName := tmp.Name()

	_, err = io.Copy(tmp, r)
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", rel, err)
	}

	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", rel, err)
	}
	return nil
}
