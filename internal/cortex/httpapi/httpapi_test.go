package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"manifold/internal/cortex/ingest"
	"manifold/internal/cortex/model"
	"manifold/internal/cortex/projector"
	"manifold/internal/cortex/providers"
	"manifold/internal/cortex/retrieve"
	"manifold/internal/cortex/store"
	"manifold/internal/cortex/vectorindex"
)

type stubParser struct{ convs []ingest.ParsedConversation }

func (p stubParser) Parse(_ []byte) ([]ingest.ParsedConversation, error) { return p.convs, nil }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "vectorindex-*.json")
	require.NoError(t, err)
	idx := vectorindex.New(f.Name(), 32)
	st := store.NewMemory()
	embedder := providers.NewDeterministicEmbedder(32, true)

	orch := &ingest.Orchestrator{
		Parser: stubParser{convs: []ingest.ParsedConversation{{
			Title: "Chat",
			Messages: []model.Message{
				{Role: model.RoleUser, Content: "hello"},
				{Role: model.RoleAssistant, Content: "hi there"},
			},
		}}},
		Summariser:  providers.FallbackSummariser{},
		Embedder:    embedder,
		Store:       st,
		Index:       idx,
		Concurrency: 2,
		Projector:   projector.DefaultConfig(),
	}

	return &Server{
		Orchestrator: orch,
		Retrieve:     &retrieve.Service{Store: st, Index: idx, Embedder: embedder},
		Store:        st,
		Index:        idx,
		Synthesiser:  stubSynthesiser{},
		Projector:    projector.DefaultConfig(),
	}
}

type stubSynthesiser struct{}

func (stubSynthesiser) Synthesise(_ context.Context, _ []model.Conversation) (string, error) {
	return "synthesised prompt", nil
}

func multipartUpload(t *testing.T, fieldName, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile(fieldName, filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestHandleIngestSucceeds(t *testing.T) {
	s := newTestServer(t)
	mux := s.Routes()

	body, contentType := multipartUpload(t, "file", "export.html", []byte("<html></html>"))
	req := httptest.NewRequest("POST", "/api/ingest", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	var resp ingest.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Succeeded)
}

func TestHandleHealthReportsReady(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)
}

func TestHandleGetChatNotFound(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("GET", "/api/chats/does-not-exist", nil)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	require.Equal(t, 404, rec.Code)
}

func TestHandleSearchRejectsMalformedBody(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("POST", "/api/search", bytes.NewBufferString("not json"))
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	require.Equal(t, 400, rec.Code)
}

func TestHandlePromptGenerateRequiresIDs(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("POST", "/api/prompt/generate", bytes.NewBufferString(`{"conversation_ids":[]}`))
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	require.Equal(t, 422, rec.Code)
}

func TestHandleReprojectInsufficientDataIsUnprocessable(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("POST", "/api/ingest/reproject", nil)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	require.Equal(t, 422, rec.Code)
}
