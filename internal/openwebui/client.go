package openwebui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"
	"unicode"
)

// ErrNoFileID is returned when an upload succeeds but the response carries no id.
var ErrNoFileID = errors.New("upload response has no file id")

const (
	uploadTimeout  = 30 * time.Second
	defaultTimeout = 10 * time.Second
	maxTitleRunes  = 50
)

// Config configures a Client.
type Config struct {
	URL    string
	APIKey string
	// KnowledgeBaseName is sent as collection_name on upload when a
	// collection is configured.
	KnowledgeBaseName string
	// CollectionID is the knowledge base uploaded files are attached to.
	// Empty means files are uploaded without a collection.
	CollectionID string
	Logger       *slog.Logger
}

// Knowledge is a knowledge base (collection) as listed by OpenWebUI.
type Knowledge struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Client talks to the OpenWebUI files and knowledge APIs.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a Client.
func New(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:        cfg,
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		httpClient: &http.Client{},
		logger:     logger.With("component", "openwebui"),
	}
}

// CollectionID returns the configured collection, or "" when files are
// uploaded without one.
func (c *Client) CollectionID() string {
	return c.cfg.CollectionID
}

// ListKnowledge returns the available knowledge bases. Some OpenWebUI
// versions answer with HTML here; that, and any transport error, yields an
// empty list.
func (c *Client) ListKnowledge(ctx context.Context) []Knowledge {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/knowledge", nil)
	if err != nil {
		return nil
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("could not list knowledge bases", "error", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Debug("could not list knowledge bases", "status", resp.StatusCode)
		return nil
	}
	if mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mt != "application/json" {
		c.logger.Debug("knowledge API did not return JSON; organise files in the UI instead", "content_type", mt)
		return nil
	}

	var list []Knowledge
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		c.logger.Debug("decoding knowledge list", "error", err)
		return nil
	}
	return list
}

// UploadFile uploads content as a markdown file and returns its file id.
// collectionName, when non-empty, is sent as the collection_name form field.
func (c *Client) UploadFile(ctx context.Context, filename, content, collectionName string) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	h.Set("Content-Type", "text/markdown")
	part, err := mw.CreatePart(h)
	if err != nil {
		return "", fmt.Errorf("creating file part: %w", err)
	}
	if _, err := io.WriteString(part, content); err != nil {
		return "", fmt.Errorf("writing file part: %w", err)
	}
	if collectionName != "" {
		if err := mw.WriteField("collection_name", collectionName); err != nil {
			return "", fmt.Errorf("writing collection_name: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("closing multipart body: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/files/", &body)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var file struct {
		ID string `json:"id"`
	}
	if err := c.do(req, &file); err != nil {
		return "", fmt.Errorf("uploading %s: %w", filename, err)
	}
	if file.ID == "" {
		return "", fmt.Errorf("uploading %s: %w", filename, ErrNoFileID)
	}
	c.logger.Info("uploaded file", "filename", filename, "file_id", file.ID)
	return file.ID, nil
}

// AddFileToKnowledge attaches an uploaded file to a knowledge base.
func (c *Client) AddFileToKnowledge(ctx context.Context, fileID, knowledgeID string) error {
	payload, err := json.Marshal(map[string]string{"file_id": fileID})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	endpoint := c.baseURL + "/api/v1/knowledge/" + url.PathEscape(knowledgeID) + "/file/add"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	if err := c.do(req, nil); err != nil {
		return fmt.Errorf("adding file %s to knowledge %s: %w", fileID, knowledgeID, err)
	}
	c.logger.Info("added file to knowledge base", "file_id", fileID, "knowledge_id", knowledgeID)
	return nil
}

// DeleteFile removes a file.
func (c *Client) DeleteFile(ctx context.Context, fileID string) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/v1/files/"+url.PathEscape(fileID), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)

	if err := c.do(req, nil); err != nil {
		return fmt.Errorf("deleting file %s: %w", fileID, err)
	}
	c.logger.Info("deleted file", "file_id", fileID)
	return nil
}

// SyncNote uploads a rendered note and returns the new file id. Attaching it
// to the configured collection is best-effort: a failure is logged and the
// upload still counts.
func (c *Client) SyncNote(ctx context.Context, noteID, title, content string) (string, error) {
	var collectionName string
	if c.cfg.CollectionID != "" {
		collectionName = c.cfg.KnowledgeBaseName
	}

	fileID, err := c.UploadFile(ctx, Filename(noteID, title), content, collectionName)
	if err != nil {
		return "", err
	}

	if c.cfg.CollectionID != "" {
		if err := c.AddFileToKnowledge(ctx, fileID, c.cfg.CollectionID); err != nil {
			c.logger.Warn("file uploaded but not added to knowledge base", "file_id", fileID, "error", err)
		}
	}
	return fileID, nil
}

// Filename builds the upload name for a note: <noteID>_<title>.md, with every
// title character other than letters, digits, space, '-' and '_' replaced by
// '_' and the title cut to 50 characters.
func Filename(noteID, title string) string {
	var b strings.Builder
	n := 0
	for _, r := range title {
		if n == maxTitleRunes {
			break
		}
		if unicode.IsLetter(r) || unicode.IsNumber(r) || r == ' ' || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
		n++
	}
	return noteID + "_" + b.String() + ".md"
}

// do sends req and decodes a JSON body into out when out is non-nil. Any
// non-2xx status is an error carrying the response body.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
}
