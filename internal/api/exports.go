package api

import (
	"errors"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/athenasql/athenasql/internal/storage"
)

func handleExportDownload(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Exports == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "EXPORTS_NOT_CONFIGURED", "export archive is not configured", false, nil)
		return
	}
	key := "exports/" + strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if key == "exports/" || strings.Contains(key, "..") {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_EXPORT_KEY", "export key is invalid", false, nil)
		return
	}

	info, err := deps.Exports.Stat(r.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "EXPORT_NOT_FOUND", "export not found", false, map[string]any{"key": key})
			return
		}
		writeError(r.Context(), w, http.StatusBadGateway, "EXPORT_FETCH_FAILED", "failed to read export", true, map[string]any{"details": err.Error()})
		return
	}
	body, err := deps.Exports.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "EXPORT_NOT_FOUND", "export not found", false, map[string]any{"key": key})
			return
		}
		writeError(r.Context(), w, http.StatusBadGateway, "EXPORT_FETCH_FAILED", "failed to read export", true, map[string]any{"details": err.Error()})
		return
	}
	defer func() { _ = body.Close() }()

	contentType := info.ContentType
	if contentType == "" {
		contentType = storage.ContentTypeForKey(key)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+path.Base(key)+`"`)
	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, body)
}
