package handlers

import (
	archivezip "archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"storyforge/internal/contract"
	"storyforge/internal/coordinator"
	"storyforge/internal/infra"
	"storyforge/internal/lifecycle"
	"storyforge/internal/middleware"
	"storyforge/internal/storage"
	"storyforge/internal/testsupport"
)

type testEnv struct {
	app    *App
	router http.Handler
	slots  *testsupport.SlotStore
	quota  *testsupport.QuotaStore
	gen    *testsupport.StubGenerator
	files  *storage.FileStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	stories := testsupport.NewStoryStore()
	slots := testsupport.NewSlotStore()
	quota := testsupport.NewQuotaStore()
	idem := testsupport.NewIdempotencyLedger()
	generator := testsupport.NewStubGenerator()
	machine := lifecycle.NewMachine(stories, zerolog.Nop())

	coord := coordinator.New(stories, slots, quota, idem, machine, generator, zerolog.Nop(), coordinator.Config{
		LockTTL:            time.Second,
		IdempotencyTTL:     time.Hour,
		GenerationAttempts: 1,
		GenerationBackoff:  time.Millisecond,
		JoinPollInterval:   5 * time.Millisecond,
	})

	registry, err := contract.NewRegistry(DefaultOperations()...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	files, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("file store: %v", err)
	}

	app := &App{
		Config: &infra.Config{
			StoragePath:    files.Root(),
			StorageBaseURL: "http://assets.local",
		},
		Logger:      zerolog.Nop(),
		Stories:     stories,
		Slots:       slots,
		Quota:       quota,
		Files:       files,
		Coordinator: coord,
		Registry:    registry,
	}

	r := chi.NewRouter()
	r.Use(middleware.Account)
	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/operations", app.Operations)
	r.Post("/v1/stories", app.CreateStory)
	r.Get("/v1/stories/{story_id}", app.GetStory)
	r.Patch("/v1/stories/{story_id}/beats/{index}", app.PatchBeat)
	r.Post("/v1/stories/{story_id}/finalize", app.FinalizeStory)
	r.Get("/v1/stories/{story_id}/assets", app.StoryAssets)
	r.Get("/v1/stories/{story_id}/assets.zip", app.StoryAssetsZip)

	quota.SetAllowance("acct-1", "generation", 100)
	return &testEnv{app: app, router: r, slots: slots, quota: quota, gen: generator, files: files}
}

func (e *testEnv) do(t *testing.T, method, path, account string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if account != "" {
		req.Header.Set("X-Account-ID", account)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func createStoryBody() map[string]any {
	return map[string]any{
		"title":   "The Lighthouse",
		"summary": "A keeper and a storm.",
		"beats": []map[string]any{
			{"index": 0, "title": "Arrival", "text": "The keeper arrives.", "visual_description": "A boat at dusk."},
			{"index": 1, "title": "Storm", "text": "The storm builds.", "visual_description": "Waves over the rocks."},
		},
	}
}

func (e *testEnv) createStory(t *testing.T) storyResponse {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/v1/stories", "acct-1", createStoryBody(), nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create story: status %d: %s", rec.Code, rec.Body)
	}
	return decode[storyResponse](t, rec)
}

func TestCreateStory(t *testing.T) {
	e := newTestEnv(t)
	story := e.createStory(t)

	if story.State != "draft" || story.Version != 1 {
		t.Fatalf("new story state=%s version=%d, want draft/1", story.State, story.Version)
	}
	if story.AccountID != "acct-1" {
		t.Fatalf("account id = %s", story.AccountID)
	}
	if len(story.Beats) != 2 {
		t.Fatalf("beats = %d, want 2", len(story.Beats))
	}
}

func TestCreateStoryRequiresAccount(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodPost, "/v1/stories", "", createStoryBody(), nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", rec.Code)
	}
}

func TestCreateStoryRejectsBadBeatIndexes(t *testing.T) {
	e := newTestEnv(t)
	body := createStoryBody()
	body["beats"] = []map[string]any{
		{"index": 0, "text": "a"},
		{"index": 0, "text": "b"},
	}
	rec := e.do(t, http.MethodPost, "/v1/stories", "acct-1", body, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
}

func TestGetStoryHidesOtherAccounts(t *testing.T) {
	e := newTestEnv(t)
	story := e.createStory(t)

	rec := e.do(t, http.MethodGet, "/v1/stories/"+story.ID, "acct-2", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d, want 404 for foreign account", rec.Code)
	}
	rec = e.do(t, http.MethodGet, "/v1/stories/"+story.ID, "acct-1", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, want 200 for owner", rec.Code)
	}
}

func TestPatchBeat(t *testing.T) {
	e := newTestEnv(t)
	story := e.createStory(t)

	rec := e.do(t, http.MethodPatch, fmt.Sprintf("/v1/stories/%s/beats/1", story.ID), "acct-1", map[string]any{
		"version":            story.Version,
		"visual_description": "Lightning over the tower.",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	out := decode[map[string]any](t, rec)
	if out["version"].(float64) != float64(story.Version+1) {
		t.Fatalf("version = %v, want %d", out["version"], story.Version+1)
	}

	// A second write with the stale version must lose.
	rec = e.do(t, http.MethodPatch, fmt.Sprintf("/v1/stories/%s/beats/1", story.ID), "acct-1", map[string]any{
		"version": story.Version,
		"text":    "rewrite",
	}, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("stale version status %d, want 409", rec.Code)
	}
}

func TestPatchBeatUnknownIndex(t *testing.T) {
	e := newTestEnv(t)
	story := e.createStory(t)
	rec := e.do(t, http.MethodPatch, fmt.Sprintf("/v1/stories/%s/beats/7", story.ID), "acct-1", map[string]any{
		"version": story.Version,
		"text":    "x",
	}, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d, want 404", rec.Code)
	}
}

func TestFinalizeRequiresIdempotencyKey(t *testing.T) {
	e := newTestEnv(t)
	story := e.createStory(t)
	rec := e.do(t, http.MethodPost, fmt.Sprintf("/v1/stories/%s/finalize", story.ID), "acct-1", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400 without Idempotency-Key", rec.Code)
	}
}

func TestFinalizeAndAssets(t *testing.T) {
	e := newTestEnv(t)
	story := e.createStory(t)

	rec := e.do(t, http.MethodGet, fmt.Sprintf("/v1/stories/%s/assets", story.ID), "acct-1", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("assets status %d", rec.Code)
	}
	pending := decode[map[string]any](t, rec)
	for _, item := range pending["items"].([]any) {
		if item.(map[string]any)["status"] != "pending" {
			t.Fatalf("pre-generation asset not pending: %v", item)
		}
	}

	rec = e.do(t, http.MethodPost, fmt.Sprintf("/v1/stories/%s/finalize", story.ID), "acct-1", nil,
		map[string]string{"Idempotency-Key": "key-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("finalize status %d: %s", rec.Code, rec.Body)
	}
	out := decode[finalizeResponse](t, rec)
	if out.State != "ready" {
		t.Fatalf("state = %s, want ready", out.State)
	}
	if out.Replayed {
		t.Fatal("first finalize reported replayed")
	}
	if len(out.Slots) != 4 {
		t.Fatalf("slots = %d, want 4 (cover, two beats, audio)", len(out.Slots))
	}

	// Same key replays without regenerating.
	calls := e.gen.TotalCalls()
	rec = e.do(t, http.MethodPost, fmt.Sprintf("/v1/stories/%s/finalize", story.ID), "acct-1", nil,
		map[string]string{"Idempotency-Key": "key-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("replay status %d", rec.Code)
	}
	replay := decode[finalizeResponse](t, rec)
	if !replay.Replayed {
		t.Fatal("second finalize with same key must replay")
	}
	if e.gen.TotalCalls() != calls {
		t.Fatal("replay re-ran generation")
	}

	rec = e.do(t, http.MethodGet, fmt.Sprintf("/v1/stories/%s/assets", story.ID), "acct-1", nil, nil)
	ready := decode[map[string]any](t, rec)
	if ready["state"] != "ready" {
		t.Fatalf("assets state = %v, want ready", ready["state"])
	}
	for _, item := range ready["items"].([]any) {
		m := item.(map[string]any)
		if m["status"] != "ready" {
			t.Fatalf("asset %v not ready", m["slot"])
		}
		if m["url"] == "" {
			t.Fatalf("asset %v missing url", m["slot"])
		}
	}
}

func TestBeatPatchRegeneratesOnlyThatScene(t *testing.T) {
	e := newTestEnv(t)
	body := map[string]any{
		"title": "The Lighthouse",
		"beats": []map[string]any{
			{"index": 0, "text": "The keeper arrives.", "visual_description": "A boat at dusk."},
			{"index": 1, "text": "The storm builds.", "visual_description": "Waves over the rocks."},
			{"index": 2, "text": "The lamp fails.", "visual_description": "Darkness inside the tower."},
			{"index": 3, "text": "The sea calms.", "visual_description": "A pale sunrise."},
		},
	}
	rec := e.do(t, http.MethodPost, "/v1/stories", "acct-1", body, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d: %s", rec.Code, rec.Body)
	}
	story := decode[storyResponse](t, rec)

	assetRefs := func() map[string]string {
		rec := e.do(t, http.MethodGet, fmt.Sprintf("/v1/stories/%s/assets", story.ID), "acct-1", nil, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("assets: %d", rec.Code)
		}
		out := decode[map[string]any](t, rec)
		refs := make(map[string]string)
		for _, item := range out["items"].([]any) {
			m := item.(map[string]any)
			if m["status"] != "ready" {
				t.Fatalf("slot %v not ready", m["slot"])
			}
			refs[m["slot"].(string)] = m["artifact_ref"].(string)
		}
		return refs
	}

	rec = e.do(t, http.MethodPost, fmt.Sprintf("/v1/stories/%s/finalize", story.ID), "acct-1", nil,
		map[string]string{"Idempotency-Key": "key-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("finalize: %d: %s", rec.Code, rec.Body)
	}
	before := assetRefs()
	if len(before) != 6 {
		t.Fatalf("refs = %d, want 6 (cover, four beats, audio)", len(before))
	}

	current := decode[storyResponse](t, e.do(t, http.MethodGet, "/v1/stories/"+story.ID, "acct-1", nil, nil))
	rec = e.do(t, http.MethodPatch, fmt.Sprintf("/v1/stories/%s/beats/1", story.ID), "acct-1", map[string]any{
		"version":            current.Version,
		"visual_description": "Lightning splits the sky over the tower.",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("patch: %d: %s", rec.Code, rec.Body)
	}

	rec = e.do(t, http.MethodPost, fmt.Sprintf("/v1/stories/%s/finalize", story.ID), "acct-1", nil,
		map[string]string{"Idempotency-Key": "key-2"})
	if rec.Code != http.StatusOK {
		t.Fatalf("second finalize: %d: %s", rec.Code, rec.Body)
	}
	after := assetRefs()

	for slot, ref := range before {
		if slot == "beat:1" {
			if after[slot] == ref {
				t.Fatalf("beat:1 artifact unchanged after description patch")
			}
			continue
		}
		if after[slot] != ref {
			t.Fatalf("slot %s regenerated: %s -> %s", slot, ref, after[slot])
		}
	}
}

func TestFinalizeQuotaExceeded(t *testing.T) {
	e := newTestEnv(t)
	story := e.createStory(t)
	e.quota.SetAllowance("acct-1", "generation", 1)

	rec := e.do(t, http.MethodPost, fmt.Sprintf("/v1/stories/%s/finalize", story.ID), "acct-1", nil,
		map[string]string{"Idempotency-Key": "key-1"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status %d, want 403", rec.Code)
	}
	body := decode[map[string]string](t, rec)
	if body["error"] != "quota_exceeded" {
		t.Fatalf("error code = %s", body["error"])
	}
}

func TestAssetsZipBundlesReadyArtifacts(t *testing.T) {
	e := newTestEnv(t)
	story := e.createStory(t)

	key, err := e.files.Write(context.Background(), "generated/"+story.ID+"/cover-abc123.png", []byte("cover-bytes"))
	if err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	e.slots.SeedReady(uuid.MustParse(story.ID), "cover", "fp-cover", key)

	rec := e.do(t, http.MethodGet, fmt.Sprintf("/v1/stories/%s/assets.zip", story.ID), "acct-1", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/zip" {
		t.Fatalf("content type = %s", ct)
	}
	zr, err := archivezip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	if len(zr.File) != 1 || zr.File[0].Name != "cover.png" {
		t.Fatalf("archive entries = %v", zr.File)
	}
}

func TestAssetsZipWithoutReadyAssets(t *testing.T) {
	e := newTestEnv(t)
	story := e.createStory(t)
	rec := e.do(t, http.MethodGet, fmt.Sprintf("/v1/stories/%s/assets.zip", story.ID), "acct-1", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d, want 404 with nothing generated", rec.Code)
	}
}

func TestOperationsListing(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodGet, "/v1/operations", "", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	out := decode[map[string][]contract.Operation](t, rec)
	items := out["items"]
	if len(items) == 0 {
		t.Fatal("no operations listed")
	}
	var finalize *contract.Operation
	for i := range items {
		if items[i].Name == coordinator.EndpointFinalize {
			finalize = &items[i]
		}
	}
	if finalize == nil {
		t.Fatal("finalize operation missing from listing")
	}
	if finalize.Idempotency == nil || !finalize.Idempotency.Required {
		t.Fatal("finalize must require idempotency")
	}
	if finalize.Quota == nil || !finalize.Quota.Refundable {
		t.Fatal("finalize quota must be refundable")
	}
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodGet, "/v1/healthz", "", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
}
