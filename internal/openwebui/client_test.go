package openwebui

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorded is one request seen by the fake server.
type recorded struct {
	method, path string
	filename     string
	fileType     string
	content      string
	collection   string
	fileID       string
}

type fakeOpenWebUI struct {
	mu        sync.Mutex
	requests  []recorded
	uploadID  string
	failAdd   bool
	failPaths map[string]int
}

func (f *fakeOpenWebUI) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))

		rec := recorded{method: r.Method, path: r.URL.Path}
		defer func() {
			f.mu.Lock()
			f.requests = append(f.requests, rec)
			f.mu.Unlock()
		}()

		if code, ok := f.failPaths[r.Method+" "+r.URL.Path]; ok {
			http.Error(w, "nope", code)
			return
		}

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/files/":
			assert.NoError(t, r.ParseMultipartForm(1<<20))
			file, hdr, err := r.FormFile("file")
			if !assert.NoError(t, err) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			data, _ := io.ReadAll(file)
			rec.filename = hdr.Filename
			rec.fileType = hdr.Header.Get("Content-Type")
			rec.content = string(data)
			rec.collection = r.FormValue("collection_name")
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"id": f.uploadID})
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/file/add"):
			var body map[string]string
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			rec.fileID = body["file_id"]
			if f.failAdd {
				http.Error(w, "no such knowledge", http.StatusNotFound)
				return
			}
			w.Write([]byte(`{}`))
		case r.Method == http.MethodDelete:
			w.Write([]byte(`true`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSyncNote_WithoutCollection(t *testing.T) {
	f := &fakeOpenWebUI{uploadID: "f1"}
	srv := f.server(t)
	c := New(Config{URL: srv.URL + "/", APIKey: "key", KnowledgeBaseName: "Joplin Notes"})

	id, err := c.SyncNote(context.Background(), "n1", "Hi/there?", "# Hi\n\nbody")
	require.NoError(t, err)
	assert.Equal(t, "f1", id)

	require.Len(t, f.requests, 1)
	up := f.requests[0]
	assert.Equal(t, "n1_Hi_there_.md", up.filename)
	assert.Equal(t, "text/markdown", up.fileType)
	assert.Equal(t, "# Hi\n\nbody", up.content)
	assert.Empty(t, up.collection)
}

func TestSyncNote_AttachesToCollection(t *testing.T) {
	f := &fakeOpenWebUI{uploadID: "f2"}
	srv := f.server(t)
	c := New(Config{URL: srv.URL, APIKey: "key", KnowledgeBaseName: "Joplin Notes", CollectionID: "kb1"})

	id, err := c.SyncNote(context.Background(), "n1", "Hi", "body")
	require.NoError(t, err)
	assert.Equal(t, "f2", id)

	require.Len(t, f.requests, 2)
	assert.Equal(t, "Joplin Notes", f.requests[0].collection)
	assert.Equal(t, "/api/v1/knowledge/kb1/file/add", f.requests[1].path)
	assert.Equal(t, "f2", f.requests[1].fileID)
}

func TestSyncNote_AttachFailureIsNotFatal(t *testing.T) {
	f := &fakeOpenWebUI{uploadID: "f3", failAdd: true}
	srv := f.server(t)
	c := New(Config{URL: srv.URL, APIKey: "key", CollectionID: "kb1"})

	id, err := c.SyncNote(context.Background(), "n1", "Hi", "body")
	require.NoError(t, err)
	assert.Equal(t, "f3", id)
}

func TestUploadFile_Errors(t *testing.T) {
	f := &fakeOpenWebUI{uploadID: ""}
	srv := f.server(t)
	c := New(Config{URL: srv.URL, APIKey: "key"})

	_, err := c.UploadFile(context.Background(), "a.md", "x", "")
	assert.True(t, errors.Is(err, ErrNoFileID))

	f.failPaths = map[string]int{"POST /api/v1/files/": http.StatusInternalServerError}
	_, err = c.UploadFile(context.Background(), "a.md", "x", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestDeleteFile(t *testing.T) {
	f := &fakeOpenWebUI{}
	srv := f.server(t)
	c := New(Config{URL: srv.URL, APIKey: "key"})

	require.NoError(t, c.DeleteFile(context.Background(), "f1"))
	assert.Equal(t, "/api/v1/files/f1", f.requests[0].path)
	assert.Equal(t, http.MethodDelete, f.requests[0].method)

	f.failPaths = map[string]int{"DELETE /api/v1/files/f2": http.StatusNotFound}
	assert.Error(t, c.DeleteFile(context.Background(), "f2"))
}

func TestListKnowledge(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		want        []Knowledge
	}{
		{
			name:        "json",
			contentType: "application/json; charset=utf-8",
			body:        `[{"id":"kb1","name":"Joplin Notes"}]`,
			want:        []Knowledge{{ID: "kb1", Name: "Joplin Notes"}},
		},
		{
			name:        "html",
			contentType: "text/html",
			body:        `<html></html>`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/v1/knowledge", r.URL.Path)
				w.Header().Set("Content-Type", tt.contentType)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			got := New(Config{URL: srv.URL, APIKey: "key"}).ListKnowledge(context.Background())
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestListKnowledge_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	assert.Empty(t, New(Config{URL: srv.URL}).ListKnowledge(context.Background()))
}

func TestFilename(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"Hello World", "n_Hello World.md"},
		{"a/b:c*d", "n_a_b_c_d.md"},
		{"keep-dash_and_underscore", "n_keep-dash_and_underscore.md"},
		{"Café 2024", "n_Café 2024.md"},
		{"", "n_.md"},
		{strings.Repeat("x", 60), "n_" + strings.Repeat("x", 50) + ".md"},
		{strings.Repeat("é", 60), "n_" + strings.Repeat("é", 50) + ".md"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Filename("n", tt.title), "title %q", tt.title)
	}
}
