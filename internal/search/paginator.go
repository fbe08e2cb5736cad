// Package search runs paged substring search over a room's content and
// encodes stateless navigation tokens for the result pages.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"studyroom-bot/internal/domain"
)

const defaultPageSize = 5

// ErrEmptyQuery is returned when the search text is blank.
var ErrEmptyQuery = errors.New("search: query must not be empty")

// FileFinder lists a room's files newest first. A non-positive limit means
// no limit.
type FileFinder interface {
	FindFiles(ctx context.Context, roomCode string, filter domain.FileFilter, offset, limit int) ([]domain.File, error)
	CountFiles(ctx context.Context, roomCode string, filter domain.FileFilter) (int, error)
}

// Page is one rendered page of results. PrevToken and NextToken are empty
// when the step is not offered.
type Page struct {
	RoomCode  string
	Query     string
	Number    int
	PageSize  int
	Total     int
	Items     []domain.File
	PrevToken string
	NextToken string
}

// Offset is the index of the first item of the page.
func (p Page) Offset() int {
	return p.Number * p.PageSize
}

// HasPrev reports whether a previous page exists.
func (p Page) HasPrev() bool {
	return p.Number > 0
}

// HasNext reports whether a following page exists.
func (p Page) HasNext() bool {
	return (p.Number+1)*p.PageSize < p.Total
}

// Paginator serves search pages without keeping any state between requests.
type Paginator struct {
	finder   FileFinder
	pageSize int
}

// NewPaginator creates a Paginator. A non-positive pageSize uses the default.
func NewPaginator(finder FileFinder, pageSize int) (*Paginator, error) {
	if finder == nil {
		return nil, errors.New("search: file finder must not be nil")
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Paginator{finder: finder, pageSize: pageSize}, nil
}

// PageSize returns the configured page size.
func (p *Paginator) PageSize() int {
	return p.pageSize
}

// Match returns the filter selecting files whose tags, AI tags, display name
// or caption contain query, ignoring case.
func Match(query string) domain.FileFilter {
	q := strings.ToLower(strings.TrimSpace(query))
	return func(f domain.File) bool {
		if containsFold(f.DisplayName, q) || containsFold(f.Caption, q) {
			return true
		}
		for _, t := range f.Tags {
			if containsFold(t, q) {
				return true
			}
		}
		for _, t := range f.AITags {
			if containsFold(t, q) {
				return true
			}
		}
		return false
	}
}

func containsFold(s, lowerQuery string) bool {
	return strings.Contains(strings.ToLower(s), lowerQuery)
}

// Search returns up to limit matching files of roomCode starting at offset.
func (p *Paginator) Search(ctx context.Context, roomCode, query string, offset, limit int) ([]domain.File, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if offset < 0 {
		offset = 0
	}
	files, err := p.finder.FindFiles(ctx, roomCode, Match(query), offset, limit)
	if err != nil {
		return nil, fmt.Errorf("search: find: %w", err)
	}
	return files, nil
}

// Count returns the number of matching files of roomCode, independent of paging.
func (p *Paginator) Count(ctx context.Context, roomCode, query string) (int, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return 0, ErrEmptyQuery
	}
	n, err := p.finder.CountFiles(ctx, roomCode, Match(query))
	if err != nil {
		return 0, fmt.Errorf("search: count: %w", err)
	}
	return n, nil
}

// Page runs the search for page number n and builds its navigation tokens.
func (p *Paginator) Page(ctx context.Context, roomCode, query string, n int) (Page, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Page{}, ErrEmptyQuery
	}
	if n < 0 {
		n = 0
	}
	page := Page{RoomCode: roomCode, Query: query, Number: n, PageSize: p.pageSize}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		items, err := p.Search(gctx, roomCode, query, page.Offset(), p.pageSize)
		page.Items = items
		return err
	})
	g.Go(func() error {
		total, err := p.Count(gctx, roomCode, query)
		page.Total = total
		return err
	})
	if err := g.Wait(); err != nil {
		return Page{}, err
	}

	if page.HasPrev() {
		page.PrevToken = navToken(DirectionPrev, page)
	}
	if page.HasNext() {
		page.NextToken = navToken(DirectionNext, page)
	}
	return page, nil
}

// Navigate decodes a button payload and serves the page it points to.
func (p *Paginator) Navigate(ctx context.Context, payload string) (Page, error) {
	t, err := DecodeToken(payload)
	if err != nil {
		return Page{}, err
	}
	next := t.Page + 1
	if t.Direction == DirectionPrev {
		next = t.Page - 1
	}
	if next < 0 || strings.TrimSpace(t.Query) == "" || !domain.ValidRoomCode(t.RoomCode) {
		return Page{}, ErrTokenDecode
	}
	return p.Page(ctx, t.RoomCode, t.Query, next)
}

// navToken returns "" when the token does not fit a button payload; the
// caller then withholds that button.
func navToken(d Direction, page Page) string {
	s, err := EncodeToken(Token{Direction: d, Page: page.Number, Query: page.Query, RoomCode: page.RoomCode})
	if err != nil {
		return ""
	}
	return s
}
