package feed

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cinedb/cinedb/internal/model"
)

// CommentCache is an eventually consistent copy of one movie's comments,
// newest first.  Local writes are applied optimistically with Put and
// Remove; Apply reconciles with every inbound change.  Both paths are
// idempotent by comment id, so an optimistic insert followed by its own
// INSERT change leaves a single entry.
type CommentCache struct {
	movieID uint64

	mu    sync.RWMutex
	items map[uint64]model.Comment
	// touched records ids written while the cache waits for Fill; nil once
	// filled.
	touched map[uint64]struct{}
}

func NewCommentCache(movieID uint64, initial []model.Comment) *CommentCache {
	cc := &CommentCache{movieID: movieID, items: make(map[uint64]model.Comment, len(initial))}
	for _, c := range initial {
		if c.MovieID == movieID {
			cc.items[c.ID] = c
		}
	}
	return cc
}

// NewPendingCommentCache returns an empty cache that accepts changes
// before its initial list is known.  Fill completes it.
func NewPendingCommentCache(movieID uint64) *CommentCache {
	return &CommentCache{
		movieID: movieID,
		items:   make(map[uint64]model.Comment),
		touched: make(map[uint64]struct{}),
	}
}

// Fill merges the initial list into a pending cache.  A comment put or
// removed since the cache was created keeps that newer state.
func (cc *CommentCache) Fill(initial []model.Comment) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	for _, c := range initial {
		if c.MovieID != cc.movieID {
			continue
		}
		if _, newer := cc.touched[c.ID]; !newer {
			cc.items[c.ID] = c
		}
	}
	cc.touched = nil
}

// Subscription returns the feed subscription that keeps this cache fresh.
func (cc *CommentCache) Subscription() Subscription {
	return Subscription{Table: TableMovieComments, Filter: fmt.Sprintf("movie_id=eq.%d", cc.movieID)}
}

// Put inserts or replaces c.
func (cc *CommentCache) Put(c model.Comment) {
	if c.MovieID != cc.movieID {
		return
	}
	cc.mu.Lock()
	cc.items[c.ID] = c
	cc.touch(c.ID)
	cc.mu.Unlock()
}

// Remove drops the comment with id.
func (cc *CommentCache) Remove(id uint64) {
	cc.mu.Lock()
	delete(cc.items, id)
	cc.touch(id)
	cc.mu.Unlock()
}

func (cc *CommentCache) touch(id uint64) {
	if cc.touched != nil {
		cc.touched[id] = struct{}{}
	}
}

// Apply reconciles the cache with ch.  Changes for other tables or other
// movies are ignored.
func (cc *CommentCache) Apply(ch Change) error {
	if ch.Table != TableMovieComments {
		return nil
	}
	var c model.Comment
	if err := ch.Decode(&c); err != nil {
		return fmt.Errorf("decode comment change: %w", err)
	}
	if c.MovieID != cc.movieID {
		return nil
	}
	switch ch.Type {
	case Insert, Update:
		cc.Put(c)
	case Delete:
		cc.Remove(c.ID)
	}
	return nil
}

// List returns the comments newest first (ties broken by id).
func (cc *CommentCache) List() []model.Comment {
	cc.mu.RLock()
	out := make([]model.Comment, 0, len(cc.items))
	for _, c := range cc.items {
		out = append(out, c)
	}
	cc.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}
