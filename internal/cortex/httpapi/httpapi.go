// Package httpapi implements the REST surface (SPEC_FULL.md §6) over a Go
// 1.22+ enhanced ServeMux. Grounded on routes.go's route-table style and
// handlers.go's respondJSON/error-mapping idiom, generalised from the
// reference stack's chat/agent domain to the conversation/search domain
// described here.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"manifold/internal/cortex/cortexerr"
	"manifold/internal/cortex/ingest"
	"manifold/internal/cortex/model"
	"manifold/internal/cortex/objectstore"
	"manifold/internal/cortex/projector"
	"manifold/internal/cortex/providers"
	"manifold/internal/cortex/retrieve"
	"manifold/internal/cortex/store"
	"manifold/internal/cortex/vectorindex"
)

// maxUploadBytes bounds a single multipart HTML upload.
const maxUploadBytes = 32 << 20

// Server holds every dependency the HTTP handlers need.
type Server struct {
	Orchestrator *ingest.Orchestrator
	Retrieve     *retrieve.Service
	Store        store.Store
	Index        *vectorindex.Index
	Synthesiser  providers.PromptSynthesiser
	Projector    projector.Config
	ObjectStore  *objectstore.Mirror
	Logger       zerolog.Logger
}

// Routes builds the service's ServeMux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/ingest", s.handleIngest)
	mux.HandleFunc("POST /api/ingest/batch", s.handleIngestBatch)
	mux.HandleFunc("POST /api/ingest/reproject", s.handleReproject)
	mux.HandleFunc("GET /api/chats", s.handleListChats)
	mux.HandleFunc("GET /api/chats/{id}", s.handleGetChat)
	mux.HandleFunc("DELETE /api/chats/{id}", s.handleDeleteChat)
	mux.HandleFunc("GET /api/chats/visualization", s.handleVisualization)
	mux.HandleFunc("POST /api/search", s.handleSearch)
	mux.HandleFunc("GET /api/search/stats", s.handleSearchStats)
	mux.HandleFunc("POST /api/prompt/generate", s.handlePromptGenerate)
	return mux
}

// --- descriptor & health ---------------------------------------------------

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"service": "cortex-memory-service",
		"status":  "ok",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	deps := map[string]string{"vector_index": "ready"}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if _, _, err := s.Store.GetConversationsByIDs(ctx, nil); err != nil {
		deps["metadata_store"] = "unavailable: " + err.Error()
	} else {
		deps["metadata_store"] = "ready"
	}

	respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "dependencies": deps})
}

// --- ingestion --------------------------------------------------------

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		respondError(w, cortexerr.New(cortexerr.InvalidInput, "malformed multipart upload"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, cortexerr.New(cortexerr.InvalidInput, "file field required"))
		return
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		respondError(w, cortexerr.Wrap(cortexerr.Internal, "read upload", err))
		return
	}

	autoReproject := r.FormValue("auto_reproject") == "true"
	resp, err := s.Orchestrator.IngestBundle(r.Context(), raw, uploadContentType(header), autoReproject)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleIngestBatch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		respondError(w, cortexerr.New(cortexerr.InvalidInput, "malformed multipart upload"))
		return
	}
	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		respondError(w, cortexerr.New(cortexerr.InvalidInput, "at least one file required"))
		return
	}
	autoReproject := r.FormValue("auto_reproject") == "true"

	responses := make([]ingest.Response, 0, len(files))
	for _, header := range files {
		f, err := header.Open()
		if err != nil {
			continue
		}
		raw, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			continue
		}
		resp, err := s.Orchestrator.IngestBundle(r.Context(), raw, uploadContentType(header), autoReproject)
		if err != nil {
			responses = append(responses, ingest.Response{Total: 0, Failed: 1})
			continue
		}
		responses = append(responses, resp)
	}
	respondJSON(w, http.StatusOK, map[string]any{"results": responses})
}

// uploadContentType treats a part whose file name ends in .html or .htm as
// HTML, whatever Content-Type the client sent for it.
func uploadContentType(header *multipart.FileHeader) string {
	if ext := strings.ToLower(filepath.Ext(header.Filename)); ext == ".html" || ext == ".htm" {
		return "text/html"
	}
	return header.Header.Get("Content-Type")
}

func (s *Server) handleReproject(w http.ResponseWriter, r *http.Request) {
	if err := ingest.Reproject(r.Context(), s.Store, s.Projector, s.ObjectStore); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "reprojected"})
}

// --- conversations ------------------------------------------------------

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	convs, err := s.Store.ListConversations(r.Context(), limit, offset)
	if err != nil {
		respondError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=60")
	respondJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	conv, messages, emb, err := s.Store.GetConversation(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=300")
	respondJSON(w, http.StatusOK, map[string]any{
		"conversation": conv,
		"messages":     messages,
		"embedding":    emb,
	})
}

func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.Store.DeleteConversation(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}
	if s.Index != nil {
		_ = s.Index.Delete(id)
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleVisualization(w http.ResponseWriter, r *http.Request) {
	convs, embs, err := s.Store.ListAllEmbeddings(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	embByID := make(map[string]model.Embedding, len(embs))
	for _, e := range embs {
		embByID[e.ConversationID] = e
	}

	type node struct {
		model.Conversation
		Projected model.Point3D `json:"projected"`
		Start     model.Point3D `json:"start"`
		Magnitude float64       `json:"magnitude"`
	}
	nodes := make([]node, 0, len(convs))
	for _, c := range convs {
		e := embByID[c.ID]
		nodes = append(nodes, node{Conversation: c, Projected: e.Projected, Start: e.Start, Magnitude: e.Magnitude})
	}
	respondJSON(w, http.StatusOK, map[string]any{"nodes": nodes})
}

// --- search & prompt synthesis -----------------------------------------

type searchRequest struct {
	Query         string   `json:"query"`
	Limit         int      `json:"limit"`
	MinScore      *float64 `json:"min_score"`
	ClusterFilter *int     `json:"cluster_filter"`
	TopicFilter   []string `json:"topic_filter"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, cortexerr.New(cortexerr.InvalidInput, "malformed search request body"))
		return
	}
	resp, err := s.Retrieve.Search(r.Context(), retrieve.Query{
		Text: req.Query, Limit: req.Limit, MinScore: req.MinScore,
		ClusterFilter: req.ClusterFilter, TopicFilter: req.TopicFilter,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSearchStats(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.Index.Stats())
}

type promptGenerateRequest struct {
	ConversationIDs []string `json:"conversation_ids"`
}

func (s *Server) handlePromptGenerate(w http.ResponseWriter, r *http.Request) {
	var req promptGenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, cortexerr.New(cortexerr.InvalidInput, "malformed prompt request body"))
		return
	}
	if len(req.ConversationIDs) == 0 {
		respondError(w, cortexerr.New(cortexerr.EmptyInput, "at least one conversation id required"))
		return
	}
	if len(req.ConversationIDs) > 10 {
		req.ConversationIDs = req.ConversationIDs[:10]
	}

	convs, _, err := s.Store.GetConversationsByIDs(r.Context(), req.ConversationIDs)
	if err != nil {
		respondError(w, err)
		return
	}
	ordered := make([]model.Conversation, 0, len(req.ConversationIDs))
	for _, id := range req.ConversationIDs {
		if c, ok := convs[id]; ok {
			ordered = append(ordered, c)
		}
	}

	prompt, err := s.Synthesiser.Synthesise(r.Context(), ordered)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"prompt": prompt})
}

// --- helpers -------------------------------------------------------------

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, err error) {
	status := statusFromError(err)
	respondJSON(w, status, map[string]string{"error": err.Error()})
}

// statusFromError maps the cortexerr taxonomy to HTTP status codes
// (SPEC_FULL.md §7).
func statusFromError(err error) int {
	switch cortexerr.KindOf(err) {
	case cortexerr.InvalidInput:
		return http.StatusBadRequest
	case cortexerr.UnsupportedFormat, cortexerr.EmptyInput, cortexerr.InsufficientData:
		return http.StatusUnprocessableEntity
	case cortexerr.NotFound:
		return http.StatusNotFound
	case cortexerr.RetryableUpstream:
		return http.StatusBadGateway
	case cortexerr.DimensionMismatch, cortexerr.Internal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
