package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/spherical/preview-extractor/internal/cache"
	"github.com/spherical/preview-extractor/internal/domain"
)

// ErrNoEntry is returned when a session has no blob in the requested slot.
var ErrNoEntry = errors.New("no entry for session")

// PageStore maps a SessionID to its per-page blobs and its complete
// document. Entries are removed explicitly by the owning session.
//
// SessionIDs are only unique within one Registry, so every PageStore keys
// its entries under its own namespace. Stores sharing a BlobStore (several
// processes on one Redis) never see each other's entries.
type PageStore struct {
	blobs     cache.BlobStore
	ttl       time.Duration
	namespace string
}

// NewPageStore creates a page store over blobs. ttl is a safety net for
// entries whose session died without cleanup; zero keeps them forever.
func NewPageStore(blobs cache.BlobStore, ttl time.Duration) *PageStore {
	return &PageStore{blobs: blobs, ttl: ttl, namespace: uuid.NewString()}
}

// Namespace returns the key namespace of this store.
func (s *PageStore) Namespace() string { return s.namespace }

func (s *PageStore) storePrefix() string {
	return cache.Key("session", s.namespace) + ":"
}

func (s *PageStore) sessionPrefix(id SessionID) string {
	return s.storePrefix() + strconv.FormatUint(uint64(id), 10) + ":"
}

func (s *PageStore) pageKey(id SessionID, index int) string {
	return s.sessionPrefix(id) + cache.Key("page", strconv.Itoa(index))
}

func (s *PageStore) documentKey(id SessionID) string {
	return s.sessionPrefix(id) + "complete"
}

// PutPage stores the composited page at index.
func (s *PageStore) PutPage(ctx context.Context, id SessionID, index int, data domain.Region) error {
	if index < 0 {
		return fmt.Errorf("page index %d out of range", index)
	}
	if err := s.blobs.Set(ctx, s.pageKey(id, index), data, s.ttl); err != nil {
		return fmt.Errorf("store page %d: %w", index, err)
	}
	return nil
}

// Page returns the page stored at index.
func (s *PageStore) Page(ctx context.Context, id SessionID, index int) (domain.Region, error) {
	return s.get(ctx, s.pageKey(id, index))
}

// PutDocument stores the complete document.
func (s *PageStore) PutDocument(ctx context.Context, id SessionID, data domain.Region) error {
	if err := s.blobs.Set(ctx, s.documentKey(id), data, s.ttl); err != nil {
		return fmt.Errorf("store document: %w", err)
	}
	return nil
}

// Document returns the complete document.
func (s *PageStore) Document(ctx context.Context, id SessionID) (domain.Region, error) {
	return s.get(ctx, s.documentKey(id))
}

// Remove drops every entry for id.
func (s *PageStore) Remove(ctx context.Context, id SessionID) error {
	if err := s.blobs.DeleteByPrefix(ctx, s.sessionPrefix(id)); err != nil {
		return fmt.Errorf("remove session %s: %w", id, err)
	}
	return nil
}

// Count returns the number of entries held for id.
func (s *PageStore) Count(ctx context.Context, id SessionID) (int, error) {
	return s.blobs.CountByPrefix(ctx, s.sessionPrefix(id))
}

// Total returns the number of entries held for all sessions of this store.
func (s *PageStore) Total(ctx context.Context) (int, error) {
	return s.blobs.CountByPrefix(ctx, s.storePrefix())
}

func (s *PageStore) get(ctx context.Context, key string) (domain.Region, error) {
	data, err := s.blobs.Get(ctx, key)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil, ErrNoEntry
	}
	if err != nil {
		return nil, err
	}
	return domain.Region(data), nil
}
