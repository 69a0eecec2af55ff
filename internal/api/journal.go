package api

import (
	"errors"
	"fmt"
	"net/http"
)

// JournalAPI handles HTTP API requests for journaled traffic
type JournalAPI struct {
	store JournalStore
}

// NewJournalAPI creates a new journal API handler
func NewJournalAPI(store JournalStore) *JournalAPI {
	return &JournalAPI{store: store}
}

// GetFrames retrieves journaled frames with optional filters
// GET /api/journal/frames?start_time=2024-01-01T00:00:00Z&end_time=2024-01-02T00:00:00Z&can_id=0x7E8&direction=tx&interface=can0&limit=100&offset=0
func (api *JournalAPI) GetFrames(w http.ResponseWriter, r *http.Request) {
	params, err := parseQueryParams(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	frames, err := api.store.Frames(r.Context(), params)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Query failed: %v", err))
		return
	}

	respondWithJSON(w, http.StatusOK, frames)
}

// GetFrameCount returns the count of journaled frames with optional filters
// GET /api/journal/count?start_time=2024-01-01T00:00:00Z&can_id=0x7DF&direction=rx
func (api *JournalAPI) GetFrameCount(w http.ResponseWriter, r *http.Request) {
	params, err := parseQueryParams(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	count, err := api.store.CountFrames(r.Context(), params)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Query failed: %v", err))
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]uint64{"count": count})
}

// GetBusHealth returns the newest bus health snapshot
// GET /api/bus/health?interface=can0
func (api *JournalAPI) GetBusHealth(w http.ResponseWriter, r *http.Request) {
	health, err := api.store.LatestHealth(r.Context(), r.URL.Query().Get("interface"))
	switch {
	case errors.Is(err, ErrNotSupported):
		respondWithError(w, http.StatusNotImplemented, fmt.Sprintf("Bus health is %v", err))
		return
	case err != nil:
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Query failed: %v", err))
		return
	}

	respondWithJSON(w, http.StatusOK, health)
}
