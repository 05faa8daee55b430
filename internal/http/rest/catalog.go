package rest

import (
	"net/http"
	"time"
)

type catalogItem struct {
	Name        string `json:"name"`
	ArtifactURL string `json:"artifact_url"`
	ImageURL    string `json:"image_url,omitempty"`
}

type catalogResponse struct {
	Items     []catalogItem `json:"items"`
	UpdatedAt *time.Time    `json:"updated_at,omitempty"`
}

// HandleCatalog lists the latest polled catalog. A failing catalog endpoint
// shows up as an empty list, never as an error.
func (h *Handler) HandleCatalog(w http.ResponseWriter, r *http.Request) {
	items := h.catalog.Items()

	resp := catalogResponse{Items: make([]catalogItem, 0, len(items))}

	for _, item := range items {
		resp.Items = append(resp.Items, catalogItem{
			Name:        item.DisplayName,
			ArtifactURL: item.ArtifactURL,
			ImageURL:    item.ImageURL(h.imageBaseURL),
		})
	}

	if updatedAt, _ := h.catalog.Status(); !updatedAt.IsZero() {
		resp.UpdatedAt = &updatedAt
	}

	writeJSON(w, r, http.StatusOK, resp)
}
