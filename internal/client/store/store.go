// Package store is the client for the store server's bookmark REST API.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/seckatie/marksync/internal/client/identity"
	"github.com/seckatie/marksync/internal/core/api"
)

// ErrUnauthorized matches StoreErrors caused by a missing or rejected token.
var ErrUnauthorized = errors.New("unauthorized")

// Store is the record store boundary. Every call is scoped to the caller's
// current identity.
type Store interface {
	// ListBookmarks returns the caller's bookmarks, newest first.
	ListBookmarks(ctx context.Context) ([]api.Bookmark, error)
	InsertBookmark(ctx context.Context, title, url string) (api.Bookmark, error)
	// DeleteBookmark is a no-op for ids that do not exist or are not the caller's.
	DeleteBookmark(ctx context.Context, id string) error
}

// StoreError describes a failed store call.
type StoreError struct {
	Op     string
	Status int
	// Code and Fields come from the server's error body when present.
	Code   string
	Fields map[string]string
	Err    error
}

func (e *StoreError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("store %s: HTTP %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// HTTPStore implements Store over HTTP with the identity client's token.
type HTTPStore struct {
	baseURL string
	client  *http.Client
	tokens  identity.TokenStore
	log     zerolog.Logger
}

func NewHTTPStore(baseURL string, tokens identity.TokenStore, client *http.Client, log zerolog.Logger) *HTTPStore {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		tokens:  tokens,
		log:     log,
	}
}

func (s *HTTPStore) ListBookmarks(ctx context.Context) ([]api.Bookmark, error) {
	token, err := s.tokens.Load()
	if err != nil {
		return nil, &StoreError{Op: "list", Err: err}
	}
	if token == "" {
		return []api.Bookmark{}, nil
	}

	var out []api.Bookmark
	if err := s.do(ctx, "list", http.MethodGet, api.PathBookmarks, token, nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []api.Bookmark{}
	}
	s.log.Debug().Int("count", len(out)).Msg("listed bookmarks")
	return out, nil
}

func (s *HTTPStore) InsertBookmark(ctx context.Context, title, rawURL string) (api.Bookmark, error) {
	token, err := s.requireToken("insert")
	if err != nil {
		return api.Bookmark{}, err
	}

	var out api.Bookmark
	body := api.NewBookmark{Title: title, URL: rawURL}
	if err := s.do(ctx, "insert", http.MethodPost, api.PathBookmarks, token, body, http.StatusCreated, &out); err != nil {
		return api.Bookmark{}, err
	}
	s.log.Debug().Str("bookmark_id", out.ID).Msg("inserted bookmark")
	return out, nil
}

func (s *HTTPStore) DeleteBookmark(ctx context.Context, id string) error {
	token, err := s.requireToken("delete")
	if err != nil {
		return err
	}

	path := api.PathBookmarks + "/" + url.PathEscape(id)
	if err := s.do(ctx, "delete", http.MethodDelete, path, token, nil, http.StatusNoContent, nil); err != nil {
		return err
	}
	s.log.Debug().Str("bookmark_id", id).Msg("deleted bookmark")
	return nil
}

func (s *HTTPStore) requireToken(op string) (string, error) {
	token, err := s.tokens.Load()
	if err != nil {
		return "", &StoreError{Op: op, Err: err}
	}
	if token == "" {
		return "", &StoreError{Op: op, Status: http.StatusUnauthorized, Err: ErrUnauthorized}
	}
	return token, nil
}

func (s *HTTPStore) do(ctx context.Context, op, method, path, token string, in any, want int, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return &StoreError{Op: op, Err: fmt.Errorf("failed to encode request: %w", err)}
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return &StoreError{Op: op, Err: fmt.Errorf("failed to build request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return &StoreError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return decodeError(op, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &StoreError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

func decodeError(op string, resp *http.Response) error {
	se := &StoreError{Op: op, Status: resp.StatusCode}

	var body api.ErrorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(data, &body) == nil && body.Code != "" {
		se.Code = body.Code
		se.Fields = body.Fields
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		se.Err = ErrUnauthorized
	case body.Message != "":
		se.Err = errors.New(body.Message)
	default:
		se.Err = errors.New(http.StatusText(resp.StatusCode))
	}
	return se
}
