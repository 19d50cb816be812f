package frontend

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vircadia/vircadia-world-sub011/internal/changefeed"
	"github.com/vircadia/vircadia-world-sub011/internal/lease"
	"github.com/vircadia/vircadia-world-sub011/internal/models"
	"github.com/vircadia/vircadia-world-sub011/internal/registry"
	"github.com/vircadia/vircadia-world-sub011/internal/scheduler"
)

// maxActionPayload bounds producer payloads read from the request body.
const maxActionPayload = 1 << 20

// API holds the HTTP handlers over the core components.
type API struct {
	registry  *registry.Registry
	scheduler *scheduler.Scheduler
	queue     *lease.Queue
	feed      *changefeed.Computer
}

// NewAPI creates the API handler set.
func NewAPI(reg *registry.Registry, sched *scheduler.Scheduler, queue *lease.Queue, feed *changefeed.Computer) *API {
	return &API{registry: reg, scheduler: sched, queue: queue, feed: feed}
}

// ConfigureRoutes mounts the API routes on the router.
func (a *API) ConfigureRoutes(r chi.Router) {
	r.Get("/groups", a.listGroups)
	r.Route("/groups/{name}", func(r chi.Router) {
		r.Get("/", a.getGroup)
		r.Get("/changes", a.getChanges)
		r.Post("/actions", a.postAction)
	})
}

// groupStatus is the per-group introspection document.
type groupStatus struct {
	Group        models.SyncGroup              `json:"group"`
	Scheduler    scheduler.Status              `json:"scheduler"`
	ActionCounts map[models.ActionStatus]int64 `json:"actionCounts"`
}

func (a *API) listGroups(w http.ResponseWriter, r *http.Request) {
	groups := a.registry.All()
	statuses := make([]groupStatus, 0, len(groups))
	for _, group := range groups {
		status, err := a.groupStatus(r, group)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		statuses = append(statuses, status)
	}
	writeJSON(w, http.StatusOK, statuses)
}

func (a *API) getGroup(w http.ResponseWriter, r *http.Request) {
	group, err := a.registry.Get(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	status, err := a.groupStatus(r, group)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (a *API) groupStatus(r *http.Request, group models.SyncGroup) (groupStatus, error) {
	counts, err := a.queue.Counts(r.Context(), group.Name)
	if err != nil {
		return groupStatus{}, err
	}
	schedStatus, _ := a.scheduler.Status(group.Name)
	return groupStatus{
		Group:        group,
		Scheduler:    schedStatus,
		ActionCounts: counts,
	}, nil
}

func (a *API) getChanges(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, err := a.registry.Get(name); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	from, err := parseTimeParam(r, "from")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	to, err := parseTimeParam(r, "to")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	events, err := a.feed.Diff(r.Context(), name, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if events == nil {
		events = []models.ChangeEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (a *API) postAction(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, err := a.registry.Get(name); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxActionPayload))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	if !json.Valid(payload) {
		writeError(w, http.StatusBadRequest, errors.New("payload must be valid JSON"))
		return
	}

	action, err := a.queue.Enqueue(r.Context(), name, payload)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, action)
}

func parseTimeParam(r *http.Request, key string) (time.Time, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return time.Time{}, errors.New("missing query parameter " + key)
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, errors.New("invalid " + key + ": " + err.Error())
	}
	return t, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
