package joplin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// noteFields are requested on every note listing.
const noteFields = "id,title,body,updated_time,is_todo,todo_completed,parent_id"

const (
	pageLimit   = 100
	callTimeout = 30 * time.Second
)

// Note is a Joplin note as read from the Data API.
type Note struct {
	ID            string
	Title         string
	Body          string
	UpdatedTime   time.Time
	ParentID      string
	IsTodo        bool
	TodoCompleted bool
}

// noteJSON mirrors a note item returned by the Data API. Times are
// milliseconds since the epoch.
type noteJSON struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Body          string `json:"body"`
	UpdatedTime   int64  `json:"updated_time"`
	ParentID      string `json:"parent_id"`
	IsTodo        int    `json:"is_todo"`
	TodoCompleted int64  `json:"todo_completed"`
}

func (n noteJSON) note() Note {
	out := Note{
		ID:            n.ID,
		Title:         n.Title,
		Body:          n.Body,
		ParentID:      n.ParentID,
		IsTodo:        n.IsTodo != 0,
		TodoCompleted: n.TodoCompleted != 0,
	}
	if n.UpdatedTime > 0 {
		out.UpdatedTime = time.UnixMilli(n.UpdatedTime).UTC()
	}
	return out
}

type tagJSON struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// page is the envelope of every paginated Data API listing.
type page[T any] struct {
	Items   []T  `json:"items"`
	HasMore bool `json:"has_more"`
}

// Client talks to the Joplin Data API (the clipper server).
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a Client for the Data API at baseURL, authenticating with token.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{},
	}
}

// Ping returns true if the server answers GET /ping with 200.
func (c *Client) Ping(ctx context.Context) bool {
	return ping(ctx, c.httpClient, c.baseURL)
}

func ping(ctx context.Context, hc *http.Client, baseURL string) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/ping", nil)
	if err != nil {
		return false
	}
	resp, err := hc.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// ListNotes returns every note, following pagination to the end.
func (c *Client) ListNotes(ctx context.Context) ([]Note, error) {
	items, err := listAll[noteJSON](ctx, c, "/notes", url.Values{"fields": {noteFields}})
	if err != nil {
		return nil, fmt.Errorf("listing notes: %w", err)
	}
	return toNotes(items), nil
}

// ListNotesByTags returns the union of notes carrying any of the named tags.
// Tag names match case-insensitively. Notes appear once, in first-seen order.
func (c *Client) ListNotesByTags(ctx context.Context, names []string) ([]Note, error) {
	if len(names) == 0 {
		return nil, nil
	}

	wanted := make(map[string]struct{}, len(names))
	for _, n := range names {
		wanted[strings.ToLower(strings.TrimSpace(n))] = struct{}{}
	}

	tags, err := listAll[tagJSON](ctx, c, "/tags", url.Values{"fields": {"id,title"}})
	if err != nil {
		return nil, fmt.Errorf("listing tags: %w", err)
	}

	var notes []Note
	seen := make(map[string]struct{})
	for _, tag := range tags {
		if _, ok := wanted[strings.ToLower(tag.Title)]; !ok {
			continue
		}
		items, err := listAll[noteJSON](ctx, c, "/tags/"+url.PathEscape(tag.ID)+"/notes", url.Values{"fields": {noteFields}})
		if err != nil {
			return nil, fmt.Errorf("listing notes for tag %q: %w", tag.Title, err)
		}
		for _, n := range toNotes(items) {
			if _, dup := seen[n.ID]; dup {
				continue
			}
			seen[n.ID] = struct{}{}
			notes = append(notes, n)
		}
	}
	return notes, nil
}

// NotebookTitle returns the title of the folder with the given id, or "" if
// it cannot be fetched for any reason.
func (c *Client) NotebookTitle(ctx context.Context, id string) string {
	if id == "" {
		return ""
	}
	var folder tagJSON
	if err := c.getJSON(ctx, "/folders/"+url.PathEscape(id), url.Values{"fields": {"id,title"}}, &folder); err != nil {
		return ""
	}
	return folder.Title
}

func listAll[T any](ctx context.Context, c *Client, path string, params url.Values) ([]T, error) {
	var all []T
	for n := 1; ; n++ {
		q := url.Values{}
		for k, v := range params {
			q[k] = v
		}
		q.Set("page", strconv.Itoa(n))
		q.Set("limit", strconv.Itoa(pageLimit))

		var p page[T]
		if err := c.getJSON(ctx, path, q, &p); err != nil {
			return nil, err
		}
		all = append(all, p.Items...)
		if !p.HasMore {
			return all, nil
		}
	}
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	q.Set("token", c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

func toNotes(items []noteJSON) []Note {
	notes := make([]Note, len(items))
	for i, it := range items {
		notes[i] = it.note()
	}
	return notes
}
