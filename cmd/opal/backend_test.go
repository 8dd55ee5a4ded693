package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/opal/internal/models"
)

// fakeBackend serves the OPAL API under /api plus the runtime config.json.
type fakeBackend struct {
	srv *httptest.Server

	mu        sync.Mutex
	nextJob   int
	polls     map[string]int
	chatFail  string
	chats     []models.ChatRequest
	pdfTitles []string
	requests  []string
	plans     []planCall
}

// planCall is one POST /chat/plan as the backend saw it.
type planCall struct {
	Goal string
	Body models.PlanRequest
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	b := &fakeBackend{polls: make(map[string]int)}
	mux := http.NewServeMux()
	mux.HandleFunc("/config.json", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"apiUrl": "/api"})
	})
	mux.HandleFunc("/api/", b.serveAPI)
	b.srv = httptest.NewServer(mux)
	t.Cleanup(b.srv.Close)
	return b
}

// writeConfig writes an opal.yaml pointing at the backend with a store in
// a temp dir and returns its path.
func (b *fakeBackend) writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "opal.yaml")
	content := fmt.Sprintf(`api:
  origin: %s
chat:
  poll_interval: 10ms
  max_wait: 5s
store:
  path: %s
`, b.srv.URL, filepath.Join(dir, "opal.db"))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func (b *fakeBackend) requested(req string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range b.requests {
		if r == req {
			return true
		}
	}
	return false
}

func (b *fakeBackend) chatRequests() []models.ChatRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.ChatRequest(nil), b.chats...)
}

func (b *fakeBackend) planCalls() []planCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]planCall(nil), b.plans...)
}

func (b *fakeBackend) titles() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.pdfTitles...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func notFound(w http.ResponseWriter, what string) {
	writeJSON(w, http.StatusNotFound, map[string]string{"detail": what + " not found"})
}

func (b *fakeBackend) serveAPI(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api")
	b.mu.Lock()
	b.requests = append(b.requests, r.Method+" "+path)
	b.mu.Unlock()

	switch {
	case path == "/health":
		writeJSON(w, http.StatusOK, models.Health{Status: "ok"})

	case path == "/chat" && r.Method == http.MethodPost:
		var req models.ChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		b.mu.Lock()
		b.chats = append(b.chats, req)
		b.nextJob++
		id := fmt.Sprintf("job-%d", b.nextJob)
		b.mu.Unlock()
		writeJSON(w, http.StatusOK, models.JobSubmission{JobID: id, Status: "pending"})

	case path == "/chat/plan" && r.Method == http.MethodPost:
		call := planCall{Goal: r.URL.Query().Get("goal")}
		json.NewDecoder(r.Body).Decode(&call.Body)
		b.mu.Lock()
		b.plans = append(b.plans, call)
		b.mu.Unlock()
		plan := samplePlan()
		plan.Steps = append(plan.Steps, models.PlanStep{StepID: "s3", Objective: "Report", Dependencies: []string{"s9"}})
		writeJSON(w, http.StatusOK, plan)

	case strings.HasPrefix(path, "/chat/"):
		b.serveJob(w, strings.TrimPrefix(path, "/chat/"))

	case path == "/conversations":
		title := "Drought screening"
		writeJSON(w, http.StatusOK, []models.ConversationSummary{
			{ID: "conv-7", Title: &title, MessageCount: 3, UpdatedAt: time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)},
			{ID: "conv-8", Preview: "Soil microbiome sampling", MessageCount: 1},
		})

	case strings.HasPrefix(path, "/conversations/"):
		id := strings.TrimPrefix(path, "/conversations/")
		if id != "conv-7" {
			notFound(w, "Conversation")
			return
		}
		switch r.Method {
		case http.MethodDelete:
			writeJSON(w, http.StatusOK, models.DeleteResponse{Message: "Conversation deleted", ID: id})
		case http.MethodPatch:
			var upd models.ConversationUpdate
			json.NewDecoder(r.Body).Decode(&upd)
			d := savedConversation()
			d.Title = upd.Title
			writeJSON(w, http.StatusOK, d)
		default:
			writeJSON(w, http.StatusOK, savedConversation())
		}

	case path == "/labs":
		writeJSON(w, http.StatusOK, []models.Lab{{ID: "lab-1", Name: "Plant Phenomics Lab", Institution: "Prairie University"}})

	case path == "/capabilities":
		writeJSON(w, http.StatusOK, []models.Capability{sampleCapability()})

	case path == "/capabilities/search":
		writeJSON(w, http.StatusOK, []models.CapabilitySearchResult{{
			Capability:     sampleCapability(),
			RelevanceScore: 0.87,
			SourceChunks:   []models.SearchResult{{ChunkID: "c1"}},
		}})

	case path == "/capabilities/cap-1":
		writeJSON(w, http.StatusOK, sampleCapability())

	case path == "/sources":
		writeJSON(w, http.StatusOK, []models.SourceDocument{{ID: "doc-1", Type: models.SourcePDF, Title: "Drought review"}})

	case path == "/sources/doc-1" && r.Method == http.MethodDelete:
		writeJSON(w, http.StatusOK, models.DeleteResponse{Message: "Source deleted", ChunksDeleted: 12})

	case path == "/sources/doc-1":
		writeJSON(w, http.StatusOK, models.SourceDocument{
			ID: "doc-1", Type: models.SourcePDF, Title: "Drought review", URLOrPath: "drought.pdf",
			Metadata: map[string]any{"pages": 14},
		})

	case path == "/sources/doc-1/chunks":
		writeJSON(w, http.StatusOK, []models.SourceChunk{{ID: "chunk-0", SourceDocumentID: "doc-1", ChunkIndex: 0, Text: "Wheat cultivars under drought stress"}})

	case path == "/ingest/pdf":
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
			return
		}
		b.mu.Lock()
		b.pdfTitles = append(b.pdfTitles, r.FormValue("title"))
		b.mu.Unlock()
		writeJSON(w, http.StatusOK, models.IngestResponse{SourceDocumentID: "doc-9", ChunksCreated: 3, Message: "PDF ingested"})

	case path == "/ingest/url":
		writeJSON(w, http.StatusOK, models.IngestResponse{SourceDocumentID: "doc-10", ChunksCreated: 5, Message: "URL ingested"})

	default:
		notFound(w, "Route")
	}
}

// serveJob answers with one processing snapshot, then the terminal one.
func (b *fakeBackend) serveJob(w http.ResponseWriter, id string) {
	b.mu.Lock()
	b.polls[id]++
	n := b.polls[id]
	fail := b.chatFail
	b.mu.Unlock()

	if n == 1 {
		writeJSON(w, http.StatusOK, models.Job{ID: id, Status: models.JobProcessing, Progress: 40, ProgressMessage: "Searching capabilities"})
		return
	}
	if fail != "" {
		writeJSON(w, http.StatusOK, models.Job{ID: id, Status: models.JobFailed, Error: fail})
		return
	}
	result, _ := json.Marshal(models.ChatResponse{
		Message:        "Here is a plan for screening drought-tolerant strains.",
		ConversationID: "conv-7",
		Plan:           samplePlan(),
		Sources:        []models.SearchResult{{ChunkID: "c1", SourceDocumentID: "doc-1", SourceTitle: "Drought review", Text: "Wheat cultivars", Score: 0.9}},
	})
	writeJSON(w, http.StatusOK, models.Job{ID: id, Status: models.JobCompleted, Progress: 100, Result: result})
}

func samplePlan() *models.OPALPlan {
	return &models.OPALPlan{
		GoalSummary: "Screen wheat for drought tolerance",
		Steps: []models.PlanStep{
			{StepID: "s1", Objective: "Phenotype cultivars", RecommendedFacility: "Field lab"},
			{StepID: "s2", Objective: "Sequence survivors", Dependencies: []string{"s1"}},
		},
	}
}

func savedConversation() models.ConversationDetail {
	title := "Drought screening"
	return models.ConversationDetail{
		ID:    "conv-7",
		Title: &title,
		Messages: []models.ChatMessage{
			{Role: models.RoleAssistant, Content: "Hello!"},
			{Role: models.RoleUser, Content: "Find drought-tolerant strains"},
			{Role: models.RoleAssistant, Content: "Here is a plan."},
		},
		Plan:    samplePlan(),
		Sources: []models.SearchResult{{ChunkID: "c1", SourceDocumentID: "doc-1", SourceTitle: "Drought review"}},
	}
}

func sampleCapability() models.Capability {
	return models.Capability{
		ID:                 "cap-1",
		Name:               "Automated root phenotyping",
		Modalities:         []string{"imaging"},
		LabName:            "Plant Phenomics Lab",
		LabInstitution:     "Prairie University",
		FacilityName:       "Greenhouse 2",
		Tags:               []string{"roots", "drought"},
		SampleRequirements: map[string]any{"min_plants": 24},
	}
}

// runCmd executes the root command with args and stdin and returns the
// combined output.
func runCmd(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}
