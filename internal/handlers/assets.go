package handlers

import (
	"io"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/gemmarket/apiserver/internal/storage"
	"github.com/go-chi/chi/v5"
)

// AssetHandler streams stored listing assets back to clients.
type AssetHandler struct {
	assets *storage.AssetStore
}

// NewAssetHandler constructs a handler over the given asset store.
func NewAssetHandler(assets *storage.AssetStore) *AssetHandler {
	return &AssetHandler{assets: assets}
}

// AssetRouter registers the asset download route.
func AssetRouter(r chi.Router, assets *storage.AssetStore) {
	handler := NewAssetHandler(assets)
	r.Get("/*", handler.ServeAsset)
}

// ServeAsset streams the object at the wildcard path. Keys are of the
// form kind/uuid.ext, so path traversal components are rejected.
func (h *AssetHandler) ServeAsset(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if key == "" || strings.Contains(key, "..") {
		writeError(w, http.StatusBadRequest, "invalid asset key")
		return
	}

	object, err := h.assets.Open(r.Context(), key)
	if err != nil {
		writeError(w, http.StatusNotFound, "Asset not found")
		return
	}
	defer object.Close()

	if contentType := mime.TypeByExtension(path.Ext(key)); contentType != "" {
		w.Header().Set("Content-Type", contentType)
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}

	if _, err := io.Copy(w, object); err != nil {
		// Headers already sent; nothing useful to report to the client.
		return
	}
}
