package web

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/seckatie/marksync/internal/core"
	"github.com/seckatie/marksync/internal/core/api"
	"github.com/seckatie/marksync/internal/core/db"
)

func (ws *Server) listBookmarks(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, api.CodeBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	bookmarks, err := ws.db.ListBookmarks(r.Context(), p.UserID, limit)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to list bookmarks")
		writeError(w, http.StatusInternalServerError, api.CodeInternal, "internal server error")
		return
	}

	out := make([]api.Bookmark, 0, len(bookmarks))
	for _, b := range bookmarks {
		out = append(out, toAPIBookmark(b))
	}
	writeJSON(w, http.StatusOK, out)
}

func (ws *Server) createBookmark(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())

	var in api.NewBookmark
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, api.CodeBadRequest, err.Error())
		return
	}

	if result := core.Validate(in.Title, in.URL); !result.Valid() {
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{
			Code:    api.CodeValidation,
			Message: result.Err().Error(),
			Fields:  result.Messages(),
		})
		return
	}

	b, err := ws.db.AddBookmark(r.Context(), p.UserID, strings.TrimSpace(in.Title), strings.TrimSpace(in.URL))
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to insert bookmark")
		writeError(w, http.StatusInternalServerError, api.CodeInternal, "internal server error")
		return
	}

	zerolog.Ctx(r.Context()).Debug().Str("bookmark_id", b.ID).Msg("bookmark created")
	writeJSON(w, http.StatusCreated, toAPIBookmark(b))
}

// deleteBookmark always answers 204: a missing or foreign id is a no-op.
func (ws *Server) deleteBookmark(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	id := chi.URLParam(r, "id")

	if err := ws.db.DeleteBookmark(r.Context(), p.UserID, id); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("bookmark_id", id).Msg("failed to delete bookmark")
		writeError(w, http.StatusInternalServerError, api.CodeInternal, "internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toAPIBookmark(b db.Bookmark) api.Bookmark {
	return api.Bookmark{
		ID:        b.ID,
		UserID:    b.UserID,
		Title:     b.Title,
		URL:       b.URL,
		CreatedAt: b.CreatedAt,
	}
}
