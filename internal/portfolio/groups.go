package portfolio

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/fundnet/fundtrack/internal/model"
)

// colorRegex matches #rrggbb.
var colorRegex = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// GroupRequest is the JSON body for POST /groups and PUT /groups/{groupID}.
type GroupRequest struct {
	Name      string `json:"name"`
	Color     string `json:"color"` // #rrggbb; empty means the default
	SortOrder int    `json:"sort_order"`
}

func (req GroupRequest) validate() (GroupRequest, string) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return req, "name is required"
	}
	if req.Color == "" {
		req.Color = model.DefaultGroupColor
	}
	if !colorRegex.MatchString(req.Color) {
		return req, "color must look like #1890ff"
	}
	return req, ""
}

// ListGroups handles GET /api/v1/groups
func (s *Service) ListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.store.ListGroups(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if groups == nil {
		groups = []model.Group{}
	}
	writeJSON(w, http.StatusOK, groups)
}

// CreateGroup handles POST /api/v1/groups
func (s *Service) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req GroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req, msg := req.validate()
	if msg != "" {
		writeError(w, msg, http.StatusBadRequest)
		return
	}

	g := &model.Group{
		ID:        s.newID(),
		Name:      req.Name,
		Color:     req.Color,
		SortOrder: req.SortOrder,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateGroup(r.Context(), g); err != nil {
		writeStoreError(w, err)
		return
	}
	slog.Info("group created", "id", g.ID, "name", g.Name)
	writeJSON(w, http.StatusCreated, g)
}

// UpdateGroup handles PUT /api/v1/groups/{groupID}
// Renaming a group does not relabel positions filed under the old name.
func (s *Service) UpdateGroup(w http.ResponseWriter, r *http.Request) {
	var req GroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req, msg := req.validate()
	if msg != "" {
		writeError(w, msg, http.StatusBadRequest)
		return
	}

	g := &model.Group{
		ID:        chi.URLParam(r, "groupID"),
		Name:      req.Name,
		Color:     req.Color,
		SortOrder: req.SortOrder,
	}
	ctx := r.Context()
	if err := s.store.UpdateGroup(ctx, g); err != nil {
		writeStoreError(w, err)
		return
	}
	s.publish(ctx)

	groups, err := s.store.ListGroups(ctx)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	for _, stored := range groups {
		if stored.ID == g.ID {
			writeJSON(w, http.StatusOK, stored)
			return
		}
	}
	writeJSON(w, http.StatusOK, g)
}

// DeleteGroup handles DELETE /api/v1/groups/{groupID}
// Positions keep the group name and are reported under it without a color.
func (s *Service) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "groupID")
	ctx := r.Context()
	if err := s.store.DeleteGroup(ctx, id); err != nil {
		writeStoreError(w, err)
		return
	}
	slog.Info("group deleted", "id", id)
	s.publish(ctx)
	w.WriteHeader(http.StatusNoContent)
}
