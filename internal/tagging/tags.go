// Package tagging normalizes tags and merges them into content items with
// set-union semantics.
package tagging

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"studyroom-bot/internal/domain"
)

// Field names the tag set a merge writes to.
type Field string

const (
	FieldManual    Field = "tags"
	FieldSuggested Field = "ai_tags"
)

// ErrNoTags is returned when a merge has nothing left after normalization.
var ErrNoTags = errors.New("tagging: no valid tags")

// Store applies a single atomic set-union of tags to one file.
type Store interface {
	AddFileTags(ctx context.Context, ref domain.FileRef, field Field, tags []string) (domain.File, error)
}

// Merger maintains the manual and AI-suggested tag sets of content items.
type Merger struct {
	store Store
}

// NewMerger creates a Merger backed by store.
func NewMerger(store Store) (*Merger, error) {
	if store == nil {
		return nil, errors.New("tagging: store must not be nil")
	}
	return &Merger{store: store}, nil
}

// Merge adds manually entered tags to the file referenced by ref.
func (m *Merger) Merge(ctx context.Context, ref domain.FileRef, raw []string) (domain.File, error) {
	return m.merge(ctx, ref, FieldManual, raw)
}

// MergeSuggested adds AI-suggested tags to the file referenced by ref.
func (m *Merger) MergeSuggested(ctx context.Context, ref domain.FileRef, raw []string) (domain.File, error) {
	return m.merge(ctx, ref, FieldSuggested, raw)
}

func (m *Merger) merge(ctx context.Context, ref domain.FileRef, field Field, raw []string) (domain.File, error) {
	tags := Normalize(raw)
	if len(tags) == 0 {
		return domain.File{}, ErrNoTags
	}
	f, err := m.store.AddFileTags(ctx, ref, field, tags)
	if err != nil {
		return domain.File{}, fmt.Errorf("tagging: merge %s: %w", field, err)
	}
	return f, nil
}

// Normalize trims, lower-cases, drops empty entries and removes duplicates,
// keeping first-seen order.
func Normalize(raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, t := range raw {
		n := strings.ToLower(strings.TrimSpace(t))
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// ParseList splits comma-delimited user input into normalized tags.
func ParseList(s string) []string {
	return Normalize(strings.Split(s, ","))
}

// Union returns the manual and suggested tags of f as one deduplicated list,
// manual tags first.
func Union(f domain.File) []string {
	all := make([]string, 0, len(f.Tags)+len(f.AITags))
	all = append(all, f.Tags...)
	all = append(all, f.AITags...)
	return Normalize(all)
}
