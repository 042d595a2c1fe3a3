package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mkessler/dossier/internal/models"
	"github.com/mkessler/dossier/internal/queue"
	"github.com/mkessler/dossier/internal/worker"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testSecret = "topsecret"

const pushPayload = `{
	"ref": "refs/heads/main",
	"after": "abc123abc123abc123abc123abc123abc123abc1",
	"repository": {
		"name": "widgets",
		"owner": {"login": "acme"}
	}
}`

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "api.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&models.Run{}, &models.Job{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func testRouter(t *testing.T, opts Opts) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if opts.DB == nil {
		opts.DB = testDB(t)
	}
	if opts.WebhookSecret == "" {
		opts.WebhookSecret = testSecret
	}
	return NewRouter(opts)
}

// sign computes the sha256= signature GitHub would send for a body.
func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func doWebhook(router *gin.Engine, eventType string, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", eventType)
	req.Header.Set("X-GitHub-Delivery", "delivery-1")
	if signature != "" {
		req.Header.Set("X-Hub-Signature-256", signature)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func TestWebhook_ValidPushEnqueues(t *testing.T) {
	db := testDB(t)
	router := testRouter(t, Opts{DB: db})

	body := []byte(pushPayload)
	w := doWebhook(router, "push", body, sign(body, testSecret))

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	if resp["run_id"] == "" || resp["run_id"] == nil {
		t.Error("response missing run_id")
	}
	if resp["reused"] != false {
		t.Errorf("reused = %v, want false", resp["reused"])
	}

	var run models.Run
	if err := db.First(&run, "owner = ? AND repo = ?", "acme", "widgets").Error; err != nil {
		t.Fatalf("run not persisted: %v", err)
	}
	if run.Status != models.RunQueued {
		t.Errorf("run status = %q, want queued", run.Status)
	}
}

func TestWebhook_DuplicateDeliveryReuses(t *testing.T) {
	router := testRouter(t, Opts{DedupWindow: 6 * time.Hour})

	body := []byte(pushPayload)
	doWebhook(router, "push", body, sign(body, testSecret))
	w := doWebhook(router, "push", body, sign(body, testSecret))

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}
	if resp := decode(t, w); resp["reused"] != true {
		t.Errorf("reused = %v, want true", resp["reused"])
	}
}

func TestWebhook_BadSignature(t *testing.T) {
	db := testDB(t)
	router := testRouter(t, Opts{DB: db})

	body := []byte(pushPayload)
	w := doWebhook(router, "push", body, sign(body, "wrong"))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if strings.Contains(w.Body.String(), "wrong") {
		t.Error("response echoes secret material")
	}

	var count int64
	db.Model(&models.Run{}).Count(&count)
	if count != 0 {
		t.Error("unauthenticated delivery created a run")
	}
}

func TestWebhook_MissingSignature(t *testing.T) {
	router := testRouter(t, Opts{})
	w := doWebhook(router, "push", []byte(pushPayload), "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestWebhook_IgnoredEvents(t *testing.T) {
	tests := []struct {
		name      string
		eventType string
		payload   string
	}{
		{"ping", "ping", `{"zen": "Keep it logically awesome."}`},
		{"unsupported kind", "issues", `{"action": "opened"}`},
		{"branch deletion", "push", `{
			"ref": "refs/heads/old",
			"after": "0000000000000000000000000000000000000000",
			"repository": {"name": "widgets", "owner": {"login": "acme"}}
		}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := testDB(t)
			router := testRouter(t, Opts{DB: db})

			body := []byte(tt.payload)
			w := doWebhook(router, tt.eventType, body, sign(body, testSecret))

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
			}
			if resp := decode(t, w); resp["status"] != "ignored" {
				t.Errorf("status field = %v, want ignored", resp["status"])
			}
			var count int64
			db.Model(&models.Run{}).Count(&count)
			if count != 0 {
				t.Error("ignored delivery created a run")
			}
		})
	}
}

func TestWebhook_MalformedPayload(t *testing.T) {
	router := testRouter(t, Opts{})
	body := []byte(`{not json`)
	w := doWebhook(router, "push", body, sign(body, testSecret))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestEnqueue_WithSHA(t *testing.T) {
	db := testDB(t)
	router := testRouter(t, Opts{DB: db})

	body := []byte(`{"owner": "acme", "repo": "widgets", "commit_sha": "def456def456def456def456def456def456def4"}`)
	req := httptest.NewRequest(http.MethodPost, "/ci/enqueue", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", w.Code, w.Body.String())
	}

	var run models.Run
	if err := db.First(&run, "commit_sha = ?", "def456def456def456def456def456def456def4").Error; err != nil {
		t.Fatalf("run not persisted: %v", err)
	}
	if run.Event != "manual" {
		t.Errorf("event = %q, want manual", run.Event)
	}
}

func TestEnqueue_Validation(t *testing.T) {
	router := testRouter(t, Opts{})

	tests := []struct {
		name string
		body string
	}{
		{"missing owner", `{"repo": "widgets", "commit_sha": "abc"}`},
		{"missing repo", `{"owner": "acme", "commit_sha": "abc"}`},
		{"no sha no resolver", `{"owner": "acme", "repo": "widgets", "ref": "main"}`},
		{"invalid json", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/ci/enqueue", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

type fakeResolver struct {
	sha string
	err error
}

func (f *fakeResolver) ResolveRef(ctx context.Context, owner, repo, ref string) (string, error) {
	return f.sha, f.err
}

func TestEnqueue_ResolvesRef(t *testing.T) {
	db := testDB(t)
	router := testRouter(t, Opts{
		DB:       db,
		Resolver: &fakeResolver{sha: "fedcba9876543210fedcba9876543210fedcba98"},
	})

	body := []byte(`{"owner": "acme", "repo": "widgets", "ref": "main"}`)
	req := httptest.NewRequest(http.MethodPost, "/ci/enqueue", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", w.Code, w.Body.String())
	}
	var run models.Run
	if err := db.First(&run, "commit_sha = ?", "fedcba9876543210fedcba9876543210fedcba98").Error; err != nil {
		t.Fatalf("resolved run not persisted: %v", err)
	}
}

func TestEnqueue_ResolverFailure(t *testing.T) {
	router := testRouter(t, Opts{
		Resolver: &fakeResolver{err: errors.New("gh: resolve main: 404")},
	})

	body := []byte(`{"owner": "acme", "repo": "widgets", "ref": "main"}`)
	req := httptest.NewRequest(http.MethodPost, "/ci/enqueue", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", w.Code)
	}
}

func TestListRuns(t *testing.T) {
	db := testDB(t)
	router := testRouter(t, Opts{DB: db})

	for _, sha := range []string{
		"1111111111111111111111111111111111111111",
		"2222222222222222222222222222222222222222",
	} {
		if _, _, err := queue.Enqueue(db, queue.EnqueueOpts{
			Owner: "acme", Repo: "widgets", CommitSHA: sha,
		}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/ci/runs?owner=acme&repo=widgets", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	resp := decode(t, w)
	runs, ok := resp["runs"].([]any)
	if !ok || len(runs) != 2 {
		t.Errorf("runs = %v, want 2 entries", resp["runs"])
	}
}

func TestGetRun(t *testing.T) {
	db := testDB(t)
	router := testRouter(t, Opts{DB: db})

	run, _, err := queue.Enqueue(db, queue.EnqueueOpts{
		Owner: "acme", Repo: "widgets", CommitSHA: "3333333333333333333333333333333333333333",
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/ci/runs/"+run.ID, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/ci/runs/no-such-run", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

type fakeTicker struct {
	res worker.TickResult
	err error
}

func (f *fakeTicker) Tick(ctx context.Context) (worker.TickResult, error) {
	return f.res, f.err
}

func TestWorkerTick(t *testing.T) {
	router := testRouter(t, Opts{
		Ticker: &fakeTicker{res: worker.TickResult{Processed: true, Outcome: worker.OutcomeSucceeded}},
	})

	req := httptest.NewRequest(http.MethodPost, "/ci/worker/tick", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	resp := decode(t, w)
	if resp["processed"] != true {
		t.Errorf("processed = %v, want true", resp["processed"])
	}
}

func TestWorkerTick_NoWorker(t *testing.T) {
	router := testRouter(t, Opts{})
	req := httptest.NewRequest(http.MethodPost, "/ci/worker/tick", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestHealth(t *testing.T) {
	db := testDB(t)
	router := testRouter(t, Opts{DB: db})

	req := httptest.NewRequest(http.MethodGet, "/ci/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	resp := decode(t, w)
	if resp["status"] != "ok" {
		t.Errorf("status field = %v, want ok", resp["status"])
	}
	counts, ok := resp["runs"].(map[string]any)
	if !ok {
		t.Fatalf("runs counts missing: %v", resp)
	}
	for _, status := range []string{models.RunQueued, models.RunRunning, models.RunSucceeded, models.RunFailed} {
		if _, present := counts[status]; !present {
			t.Errorf("run counts missing %q", status)
		}
	}
	jobs, ok := resp["jobs"].(map[string]any)
	if !ok {
		t.Fatalf("jobs counts missing: %v", resp)
	}
	for _, status := range []string{models.JobReady, models.JobLeased, models.JobDone, models.JobDead} {
		if _, present := jobs[status]; !present {
			t.Errorf("job counts missing %q", status)
		}
	}
}

func TestStart_NilDB(t *testing.T) {
	err := Start(context.Background(), Opts{})
	if err == nil {
		t.Fatal("expected error for nil db")
	}
	if !strings.Contains(err.Error(), "db is required") {
		t.Errorf("error = %q, want db requirement", err)
	}
}
