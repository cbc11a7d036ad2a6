// Package video serves the catalog and each session's saved, liked and
// progress state over HTTP.
package video

import (
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/milearning/milearning/internal/auth"
	"github.com/milearning/milearning/internal/card"
	"github.com/milearning/milearning/internal/catalog"
	"github.com/milearning/milearning/internal/httputil"
	"github.com/milearning/milearning/internal/metrics"
	"github.com/milearning/milearning/internal/validate"
	"github.com/milearning/milearning/internal/videostate"
	"go.uber.org/zap"
)

const (
	defaultRandomCount = 5
	maxRandomCount     = 50
)

const msgVideoNotFound = "video not found"

type Handler struct {
	registry *videostate.Registry
	catalog  *catalog.Catalog
	log      *zap.Logger
	metrics  *metrics.Metrics
}

func NewHandler(registry *videostate.Registry, log *zap.Logger, m *metrics.Metrics) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{registry: registry, catalog: registry.Catalog(), log: log, metrics: m}
}

type videoItem struct {
	catalog.Video
	LikesLabel string               `json:"likesLabel"`
	ViewsLabel string               `json:"viewsLabel"`
	Saved      bool                 `json:"saved"`
	Liked      bool                 `json:"liked"`
	Progress   *videostate.Progress `json:"progress,omitempty"`
}

type listResponse struct {
	Videos   []videoItem `json:"videos"`
	Query    string      `json:"query"`
	Category string      `json:"category"`
	Total    int         `json:"total"`
}

// state returns the caller's session state, or nil for anonymous requests.
func (h *Handler) state(r *http.Request) *videostate.State {
	sessionID := auth.SessionIDFromContext(r.Context())
	if sessionID == "" {
		return nil
	}
	return h.registry.Get(sessionID)
}

func (h *Handler) items(videos []catalog.Video, s *videostate.State) []videoItem {
	out := make([]videoItem, 0, len(videos))
	for _, v := range videos {
		item := videoItem{
			Video:      v,
			LikesLabel: card.FormatCount(v.Likes),
			ViewsLabel: card.FormatCount(v.Views),
		}
		if s != nil {
			item.Saved = s.IsSaved(v.ID)
			item.Liked = s.IsLiked(v.ID)
			if p, ok := s.Progress(v.ID); ok {
				item.Progress = &p
			}
		}
		out = append(out, item)
	}
	return out
}

func (h *Handler) Categories(w http.ResponseWriter, r *http.Request) {
	active := ""
	if s := h.state(r); s != nil {
		active = s.SelectedCategory()
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"categories": h.catalog.Categories(),
		"active":     active,
	})
}

// List answers the filtered catalog. Authenticated callers also store the
// query and category as their session's filter.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query, category := q.Get("q"), q.Get("category")
	if msg := validate.Query(query); msg != "" {
		httputil.WriteFieldErrors(w, map[string]string{"q": msg})
		return
	}

	state := h.state(r)
	s := state
	if s == nil {
		s = videostate.New(h.catalog)
	}
	s.SetSearchQuery(query)
	s.SetSelectedCategory(category)

	videos := s.FilteredVideos()
	httputil.WriteJSON(w, http.StatusOK, listResponse{
		Videos:   h.items(videos, state),
		Query:    s.SearchQuery(),
		Category: s.SelectedCategory(),
		Total:    len(videos),
	})
}

func (h *Handler) Random(w http.ResponseWriter, r *http.Request) {
	count := defaultRandomCount
	if raw := r.URL.Query().Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			httputil.WriteError(w, http.StatusBadRequest, "count must be a positive integer")
			return
		}
		count = min(n, maxRandomCount)
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"videos": h.items(h.catalog.Random(count, nil), h.state(r)),
	})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	v, ok := h.catalog.ByID(chi.URLParam(r, "id"))
	if !ok {
		httputil.WriteError(w, http.StatusNotFound, msgVideoNotFound)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.items([]catalog.Video{v}, h.state(r))[0])
}

// known resolves the {id} parameter and answers 404 for ids outside the catalog.
func (h *Handler) known(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if _, ok := h.catalog.ByID(id); !ok {
		httputil.WriteError(w, http.StatusNotFound, msgVideoNotFound)
		return "", false
	}
	return id, true
}

func (h *Handler) ToggleSave(w http.ResponseWriter, r *http.Request) {
	id, ok := h.known(w, r)
	if !ok {
		return
	}
	on := h.state(r).ToggleSave(id)
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"id": id, "saved": on})
}

func (h *Handler) ToggleLike(w http.ResponseWriter, r *http.Request) {
	id, ok := h.known(w, r)
	if !ok {
		return
	}
	on := h.state(r).ToggleLike(id)
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"id": id, "liked": on})
}

type progressRequest struct {
	Fraction    *float64 `json:"fraction"`
	CurrentTime *float64 `json:"currentTime"`
	Duration    *float64 `json:"duration"`
}

func (req progressRequest) fraction() (float64, string) {
	if req.Fraction != nil {
		if math.IsNaN(*req.Fraction) || math.IsInf(*req.Fraction, 0) {
			return 0, "fraction must be a number"
		}
		return *req.Fraction, ""
	}
	if req.CurrentTime == nil || req.Duration == nil {
		return 0, "fraction or currentTime and duration are required"
	}
	d := *req.Duration
	if d <= 0 || math.IsInf(d, 0) {
		return 0, "duration must be positive"
	}
	return *req.CurrentTime / d, ""
}

func (h *Handler) Progress(w http.ResponseWriter, r *http.Request) {
	id, ok := h.known(w, r)
	if !ok {
		return
	}
	var req progressRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	fraction, msg := req.fraction()
	if msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	s := h.state(r)
	accepted := s.UpdateProgress(id, fraction)
	h.metrics.Progress(accepted)

	resp := map[string]any{"id": id, "accepted": accepted}
	if p, ok := s.Progress(id); ok {
		resp["progress"] = p
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) Saved(w http.ResponseWriter, r *http.Request) {
	s := h.state(r)
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"videos": h.items(s.SavedVideos(), s)})
}

func (h *Handler) Liked(w http.ResponseWriter, r *http.Request) {
	s := h.state(r)
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"videos": h.items(h.catalog.ByIDs(s.Liked()), s)})
}

func (h *Handler) Watched(w http.ResponseWriter, r *http.Request) {
	s := h.state(r)
	ids := s.Watched()
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"ids": ids, "videos": h.items(h.catalog.ByIDs(ids), s)})
}

// ProgressSummary answers every recorded position plus the overall bar value
// across the session's current filtered view.
func (h *Handler) ProgressSummary(w http.ResponseWriter, r *http.Request) {
	s := h.state(r)
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"overall": s.OverallProgress(s.FilteredVideos()),
		"videos":  s.ProgressMap(),
	})
}
