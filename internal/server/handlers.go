package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/michaelbrown/sandcmd/internal/app"
	"github.com/michaelbrown/sandcmd/internal/llm"
	"github.com/michaelbrown/sandcmd/internal/oracle"
	"github.com/michaelbrown/sandcmd/internal/pipeline"
	"github.com/michaelbrown/sandcmd/internal/sandbox"
	"github.com/michaelbrown/sandcmd/internal/storage"
)

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// runErrorStatus maps a pipeline error to an HTTP status.
func runErrorStatus(err error) int {
	switch {
	case errors.Is(err, app.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, oracle.ErrMalformedResponse),
		errors.Is(err, sandbox.ErrProvision),
		errors.Is(err, sandbox.ErrExecution):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

// --- Run handlers ---

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	opts := storage.RunListOptions{}

	if status := r.URL.Query().Get("status"); status != "" {
		opts.Status = storage.RunStatus(status)
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			opts.Limit = n
		}
	}
	if offset := r.URL.Query().Get("offset"); offset != "" {
		if n, err := strconv.Atoi(offset); err == nil {
			opts.Offset = n
		}
	}

	runs, err := s.store.ListRuns(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if runs == nil {
		runs = []storage.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

type createRunRequest struct {
	Instruction  string `json:"instruction"`
	Image        string `json:"image"`
	SystemPrompt string `json:"system_prompt"`
}

// runFailure is the body of a failed run: the error plus whatever the
// pipeline produced before it.
type runFailure struct {
	Error string           `json:"error"`
	Run   *pipeline.Result `json:"run,omitempty"`
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	res, err := s.runner.TryExecute(r.Context(), pipeline.Request{
		Instruction:  req.Instruction,
		Image:        req.Image,
		SystemPrompt: req.SystemPrompt,
	}, nil)
	if err != nil {
		writeJSON(w, runErrorStatus(err), runFailure{Error: err.Error(), Run: res})
		return
	}

	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteRun(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExportRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	switch format := r.URL.Query().Get("format"); format {
	case "", "md", "markdown":
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, storage.ExportMarkdown(run))
	case "json":
		data, err := storage.ExportJSON(run)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	default:
		writeError(w, http.StatusBadRequest, "unknown format: "+format)
	}
}

// --- Provider/Model handlers ---

type providerInfo struct {
	Name     string            `json:"name"`
	Type     string            `json:"type"`
	Models   map[string]string `json:"models"`
	IsOllama bool              `json:"is_ollama"`
	Default  bool              `json:"default"`
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	providers := []providerInfo{}
	for name, p := range s.cfg.Providers {
		providers = append(providers, providerInfo{
			Name:     name,
			Type:     p.Type,
			Models:   p.Models,
			IsOllama: p.IsOllama(),
			Default:  name == s.cfg.DefaultProvider,
		})
	}
	sort.Slice(providers, func(i, j int) bool { return providers[i].Name < providers[j].Name })
	writeJSON(w, http.StatusOK, providers)
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")

	provider, err := s.cfg.Provider(providerName)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	// For Ollama, query live models
	if provider.IsOllama() {
		client := llm.NewClient(provider.BaseURL, provider.APIKey, "")
		models, err := client.ListModels(r.Context())
		if err != nil {
			writeError(w, http.StatusBadGateway, fmt.Sprintf("querying models: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, models)
		return
	}

	models := []llm.ModelInfo{}
	for _, name := range provider.ModelNames() {
		models = append(models, llm.ModelInfo{Name: name})
	}
	writeJSON(w, http.StatusOK, models)
}
