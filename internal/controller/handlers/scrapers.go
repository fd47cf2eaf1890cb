package handlers

import (
	"net/http"

	"scraperd/internal/catalog"
	"scraperd/pkg/api"
)

// ListScrapers handles GET /api/scraper/list.
// Returns the static catalog of scrapers that can be requested.
func (h *Handlers) ListScrapers(w http.ResponseWriter, r *http.Request) {
	scrapers := catalog.All()

	resp := api.ScraperListResponse{
		Scrapers: make([]api.ScraperInfo, 0, len(scrapers)),
	}
	for _, s := range scrapers {
		resp.Scrapers = append(resp.Scrapers, api.ScraperInfo{
			Name:        s.Name,
			Type:        s.Type,
			Description: s.Description,
			Icon:        s.Icon,
		})
	}
	h.respondJson(w, http.StatusOK, resp)
}
