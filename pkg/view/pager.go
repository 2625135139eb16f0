package view

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/picdex/picdex/pkg/errcode"
	clog "github.com/picdex/picdex/pkg/log"
	"github.com/picdex/picdex/pkg/store"
)

// ErrEndOfIteration signals that paging moved past the last row. It is
// distinct from failure: the page returned alongside it is valid and
// empty.
var ErrEndOfIteration = errors.New("end of iteration")

const defaultPageSize int = 20

// Cursor is an opaque position in a view: the row key, the document id
// that disambiguates equal keys, and the iteration direction.
type Cursor struct {
	Key        Key    `json:"key"`
	ID         string `json:"id"`
	Descending bool   `json:"descending"`
}

// Encode renders the cursor opaque for callers.
func (c Cursor) Encode() string {
	data, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeCursor parses an encoded cursor.
func DecodeCursor(s string) (Cursor, error) {
	var c Cursor
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return c, errcode.Wrap(errcode.InvalidMethodArgument, err, "malformed cursor")
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return c, errcode.Wrap(errcode.InvalidMethodArgument, err, "malformed cursor")
	}
	return c, nil
}

// PageCursors bound a page and link to its neighbours. Previous and
// Next are empty when no further page exists in that direction.
type PageCursors struct {
	Start    string
	End      string
	Previous string
	Next     string
}

// Page is one window over a view.
type Page struct {
	Items     []interface{}
	Rows      []store.Row
	Cursors   PageCursors
	TotalSize int
	// Partial marks a page cut short by the fetch ceiling rather than
	// by the end of the view.
	Partial bool
}

// Pager wraps a predefined view with forward/backward cursor paging.
// Filter drops rows before they count against the page size; the pager
// keeps fetching until the page is full, the view is exhausted, or the
// fetch ceiling is reached. Transform builds the item appended to
// Page.Items from an accepted row.
type Pager struct {
	Log         clog.PluggableLoggerInterface
	Store       store.Store
	View        string
	CountView   string
	PageSize    int
	Descending  bool
	StartKey    Key
	EndKey      Key
	IncludeDocs bool
	Filter      func(store.Row) bool
	Transform   func(store.Row) (interface{}, error)
	// FetchCeiling bounds rows fetched per page fill. Zero means
	// 10 * PageSize.
	FetchCeiling int
}

func (p *Pager) pageSize() int {
	if p.PageSize <= 0 {
		return defaultPageSize
	}
	return p.PageSize
}

func (p *Pager) ceiling() int {
	if p.FetchCeiling > 0 {
		return p.FetchCeiling
	}
	return 10 * p.pageSize()
}

// At returns the page starting at the cursor, or the first page of the
// view when the cursor is empty. The cursor row itself is included.
func (p *Pager) At(ctx context.Context, cursor string) (*Page, error) {
	if cursor == "" {
		return p.fill(ctx, nil, true, p.Descending)
	}
	c, err := DecodeCursor(cursor)
	if err != nil {
		return nil, err
	}
	return p.fill(ctx, &c, true, p.Descending)
}

// Next returns the page after the cursor.
func (p *Pager) Next(ctx context.Context, cursor string) (*Page, error) {
	c, err := DecodeCursor(cursor)
	if err != nil {
		return nil, err
	}
	return p.fill(ctx, &c, false, p.Descending)
}

// Previous returns the page before the cursor. Rows are returned in the
// pager's iteration order.
func (p *Pager) Previous(ctx context.Context, cursor string) (*Page, error) {
	c, err := DecodeCursor(cursor)
	if err != nil {
		return nil, err
	}
	page, err := p.fillReversed(ctx, &c)
	if err != nil {
		return nil, err
	}
	return page, nil
}

// Total runs the pager's count view with reduce over the same range.
func (p *Pager) Total(ctx context.Context) (int, error) {
	if p.CountView == "" {
		return 0, nil
	}
	low, high := p.StartKey, p.EndKey
	if p.Descending {
		low, high = high, low
	}
	rows, err := p.Store.View(ctx, p.CountView, store.ViewQuery{
		StartKey: keyOrNil(low),
		EndKey:   keyOrNil(high),
		Reduce:   true,
	})
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	var count float64
	if err := json.Unmarshal(rows[0].Value, &count); err != nil {
		return 0, errcode.Wrap(errcode.ViewReduceFailure, err, "view %s reduce value %s", p.CountView, string(rows[0].Value))
	}
	return int(count), nil
}

func keyOrNil(k Key) interface{} {
	if k == nil {
		return nil
	}
	return k
}

func (p *Pager) fill(ctx context.Context, from *Cursor, inclusive bool, descending bool) (*Page, error) {
	page := &Page{}
	size := p.pageSize()
	batchLimit := size + 1

	pos := p.StartKey
	posID := ""
	dropInclusive := false
	needDrop := false
	if from != nil {
		pos = from.Key
		posID = from.ID
		needDrop = true
		dropInclusive = inclusive
	}

	fetched := 0
	exhausted := false
	morePending := false

fetchLoop:
	for len(page.Rows) < size && !exhausted {
		if fetched >= p.ceiling() {
			page.Partial = true
			break
		}
		rows, err := p.Store.View(ctx, p.View, store.ViewQuery{
			StartKey:    keyOrNil(pos),
			EndKey:      keyOrNil(p.EndKey),
			Descending:  descending,
			IncludeDocs: p.IncludeDocs,
			Limit:       batchLimit,
		})
		if err != nil {
			return nil, err
		}
		if len(rows) < batchLimit {
			exhausted = true
		}
		usable := rows
		if needDrop {
			usable = dropThrough(rows, pos, posID, dropInclusive)
			needDrop = false
		}
		for _, row := range usable {
			fetched++
			if p.Filter != nil && !p.Filter(row) {
				continue
			}
			if len(page.Rows) == size {
				morePending = true
				break fetchLoop
			}
			if err := p.accept(page, row); err != nil {
				return nil, err
			}
		}
		if len(rows) > 0 {
			last := rows[len(rows)-1]
			var k Key
			if err := json.Unmarshal(last.Key, &k); err != nil {
				return nil, fmt.Errorf("decode view key: %v", err)
			}
			pos = k
			posID = last.ID
			needDrop = true
			dropInclusive = false
		}
	}

	p.linkCursors(page, morePending || !exhausted || page.Partial)
	if len(page.Rows) == 0 && !page.Partial {
		return page, ErrEndOfIteration
	}
	return page, nil
}

// dropThrough removes rows up to the given position. When the position
// row itself is gone (deleted between pages), rows past its key are
// kept.
func dropThrough(rows []store.Row, key Key, id string, inclusive bool) []store.Row {
	if key == nil {
		return rows
	}
	for i, row := range rows {
		if sameRawKey(row.Key, key) {
			if row.ID == id {
				if inclusive {
					return rows[i:]
				}
				return rows[i+1:]
			}
			continue
		}
		return rows[i:]
	}
	return nil
}

// fillReversed pages backwards from the cursor, then restores iteration
// order.
func (p *Pager) fillReversed(ctx context.Context, from *Cursor) (*Page, error) {
	reversed := &Pager{
		Log:          p.Log,
		Store:        p.Store,
		View:         p.View,
		PageSize:     p.PageSize,
		Descending:   !p.Descending,
		StartKey:     from.Key,
		EndKey:       p.StartKey,
		IncludeDocs:  p.IncludeDocs,
		Filter:       p.Filter,
		Transform:    p.Transform,
		FetchCeiling: p.FetchCeiling,
	}
	cur := Cursor{Key: from.Key, ID: from.ID, Descending: !p.Descending}
	page, err := reversed.fill(ctx, &cur, false, !p.Descending)
	if err != nil && !errors.Is(err, ErrEndOfIteration) {
		return nil, err
	}
	endErr := err
	// restore forward order
	for i, j := 0, len(page.Rows)-1; i < j; i, j = i+1, j-1 {
		page.Rows[i], page.Rows[j] = page.Rows[j], page.Rows[i]
	}
	for i, j := 0, len(page.Items)-1; i < j; i, j = i+1, j-1 {
		page.Items[i], page.Items[j] = page.Items[j], page.Items[i]
	}
	page.Cursors.Start, page.Cursors.End = page.Cursors.End, page.Cursors.Start
	page.Cursors.Previous, page.Cursors.Next = page.Cursors.Next, page.Cursors.Previous
	if endErr != nil {
		return page, ErrEndOfIteration
	}
	return page, nil
}

func (p *Pager) accept(page *Page, row store.Row) error {
	page.Rows = append(page.Rows, row)
	if p.Transform != nil {
		item, err := p.Transform(row)
		if err != nil {
			return err
		}
		page.Items = append(page.Items, item)
	} else {
		page.Items = append(page.Items, row)
	}
	return nil
}

func (p *Pager) linkCursors(page *Page, hasNext bool) {
	if len(page.Rows) == 0 {
		return
	}
	first, last := page.Rows[0], page.Rows[len(page.Rows)-1]
	start := rowCursor(first, p.Descending)
	end := rowCursor(last, p.Descending)
	page.Cursors.Start = start.Encode()
	page.Cursors.End = end.Encode()
	page.Cursors.Previous = start.Encode()
	if hasNext {
		page.Cursors.Next = end.Encode()
	}
}

func rowCursor(row store.Row, descending bool) Cursor {
	var k Key
	_ = json.Unmarshal(row.Key, &k)
	return Cursor{Key: k, ID: row.ID, Descending: descending}
}

func sameRawKey(raw json.RawMessage, key Key) bool {
	enc, err := json.Marshal(key)
	if err != nil {
		return false
	}
	return bytes.Equal(normalizeJSON(raw), normalizeJSON(enc))
}

func normalizeJSON(data []byte) []byte {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return data
	}
	out, err := json.Marshal(v)
	if err != nil {
		return data
	}
	return out
}
