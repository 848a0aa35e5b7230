package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gridworks-dev/go-fleet/pkg/registry"
	"github.com/gridworks-dev/go-fleet/services/registry-api/internal/httpHelpers"
)

// DefinitionHandler is the CRUD plumbing in front of the definition service;
// parsing and conflict rules live behind the service interface.
type DefinitionHandler struct {
	Service registry.DefinitionService
}

func (h *DefinitionHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Put("/", h.createOrUpdate)
	r.Put("/oas", h.createOrUpdateOpenAPI)
	r.Get("/", h.get)
	r.Get("/all", h.getAll)
	r.Delete("/", h.delete)
	return r
}

func (h *DefinitionHandler) createOrUpdate(w http.ResponseWriter, r *http.Request) {
	var def registry.ApiDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		slog.Error("Error decoding api definition", "error", err)
		httpHelpers.WriteError(w, http.StatusBadRequest, "Error decoding api definition")
		return
	}

	h.register(w, r, def)
}

func (h *DefinitionHandler) createOrUpdateOpenAPI(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		httpHelpers.WriteError(w, http.StatusBadRequest, "Error reading request body")
		return
	}

	def, err := registry.FromOpenAPI(payload)
	if err != nil {
		slog.Error("Invalid OpenAPI document", "error", err)
		httpHelpers.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.register(w, r, def)
}

func (h *DefinitionHandler) register(w http.ResponseWriter, r *http.Request, def registry.ApiDefinition) {
	slog.Info("Save API definition", "id", def.Id, "version", def.Version)

	stored, err := h.Service.Register(r.Context(), def)
	if err != nil {
		if errors.Is(err, registry.ErrAlreadyPublished) {
			httpHelpers.WriteError(w, http.StatusConflict, err.Error())
			return
		}
		httpHelpers.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	httpHelpers.WriteOutput(w, stored)
}

func (h *DefinitionHandler) get(w http.ResponseWriter, r *http.Request) {
	id := registry.DefinitionId(r.URL.Query().Get("api-definition-id"))
	version := registry.Version(r.URL.Query().Get("version"))
	if id == "" {
		httpHelpers.WriteError(w, http.StatusBadRequest, "Missing api-definition-id")
		return
	}

	slog.Info("Get API definition", "id", id, "version", version)

	// Without a version, return every version of the definition.
	if version == "" {
		defs, err := h.Service.GetAllVersions(r.Context(), id)
		if err != nil {
			httpHelpers.WriteError(w, http.StatusNotFound, err.Error())
			return
		}
		httpHelpers.WriteOutput(w, defs)
		return
	}

	def, err := h.Service.Get(r.Context(), id, version)
	if err != nil {
		httpHelpers.WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	httpHelpers.WriteOutput(w, []registry.ApiDefinition{def})
}

func (h *DefinitionHandler) getAll(w http.ResponseWriter, r *http.Request) {
	defs, err := h.Service.GetAll(r.Context())
	if err != nil {
		httpHelpers.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if defs == nil {
		defs = []registry.ApiDefinition{}
	}
	httpHelpers.WriteOutput(w, defs)
}

func (h *DefinitionHandler) delete(w http.ResponseWriter, r *http.Request) {
	id := registry.DefinitionId(r.URL.Query().Get("api-definition-id"))
	version := registry.Version(r.URL.Query().Get("version"))
	if id == "" || version == "" {
		httpHelpers.WriteError(w, http.StatusBadRequest, "Missing api-definition-id or version")
		return
	}

	slog.Info("Delete API definition", "id", id, "version", version)

	if err := h.Service.Delete(r.Context(), id, version); err != nil {
		httpHelpers.WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	httpHelpers.WriteOutput(w, "API definition deleted")
}
