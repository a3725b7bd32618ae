package server

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/cavstudio/internal/activation"
	"github.com/hyperjump/cavstudio/internal/catalog"
	"github.com/hyperjump/cavstudio/internal/cav"
	"github.com/hyperjump/cavstudio/internal/config"
	"github.com/hyperjump/cavstudio/internal/extractor"
	"github.com/hyperjump/cavstudio/internal/imageset"
	"github.com/hyperjump/cavstudio/internal/localize"
	"github.com/hyperjump/cavstudio/internal/models"
	"github.com/hyperjump/cavstudio/internal/picture"
	"github.com/hyperjump/cavstudio/internal/search"
	"github.com/hyperjump/cavstudio/internal/storage"
	"github.com/hyperjump/cavstudio/internal/trainer"
	"github.com/hyperjump/cavstudio/internal/workerpool"
)

type mockWatchService struct {
	dirs []string
}

func (m *mockWatchService) Directories() []string {
	return append([]string(nil), m.dirs...)
}

func (m *mockWatchService) AddDirectory(path string, _ bool) error {
	for _, d := range m.dirs {
		if d == path {
			return nil
		}
	}
	m.dirs = append(m.dirs, path)
	return nil
}

func (m *mockWatchService) RemoveDirectory(path string) error {
	for i, d := range m.dirs {
		if d == path {
			m.dirs = append(m.dirs[:i], m.dirs[i+1:]...)
			return nil
		}
	}
	return nil
}

type testServer struct {
	srv     *Server
	handler http.Handler
	cfg     *config.Config
	static  string
}

func newTestServer(t *testing.T, watch WatchService) *testServer {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.Storage.StaticContentRoot = filepath.Join(dir, "static")
	cfg.Storage.MediaRoot = filepath.Join(dir, "media")
	cfg.Storage.DatabasePath = filepath.Join(dir, "db", "cavstudio.db")
	cfg.Storage.CatalogIndexPath = filepath.Join(dir, "catalog")
	config.ApplyDefaults(cfg)

	pool, err := workerpool.New(4)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Close)
	ext := extractor.NewMockExtractor()
	store := activation.NewStore(activation.Layout{
		StaticRoot: cfg.Storage.StaticContentRoot,
		UserRoot:   cfg.Storage.UserContentDir(),
	}, pool, ext)
	sets := imageset.NewManager(store, cfg.Storage.StaticContentRoot)
	seed := int64(7)
	opts := trainer.DefaultOptions()
	opts.Seed = &seed
	tr := trainer.New(store, ext, trainer.WithOptions(opts))
	engine := search.NewEngine(ext, sets, tr, cav.NewRepository(cfg.Storage.CAVDir))

	idx, err := catalog.OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	db, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath, storage.WithObserver(idx))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	srv := NewServer(Deps{
		Engine:      engine,
		Activations: store,
		Sets:        sets,
		Localizer:   localize.New(ext, pool),
		DB:          db,
		Catalog:     idx,
		Watch:       watch,
	}, cfg, "", zap.NewNop())
	return &testServer{srv: srv, handler: srv.Handler(), cfg: cfg, static: cfg.Storage.StaticContentRoot}
}

func (ts *testServer) do(t *testing.T, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	r := httptest.NewRequest(method, target, &buf)
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, r)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (%s)", err, w.Body.String())
	}
}

func solidDataURI(t *testing.T, c color.NRGBA) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 224, 224))
	for y := 0; y < 224; y++ {
		for x := 0; x < 224; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := picture.EncodePNG(&buf, img); err != nil {
		t.Fatal(err)
	}
	return picture.SerializeDataURI(buf.Bytes(), "image/png")
}

func (ts *testServer) upload(t *testing.T, c color.NRGBA) models.ImageRef {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/api/upload_image", map[string]string{"data224": solidDataURI(t, c)})
	if w.Code != http.StatusOK {
		t.Fatalf("upload_image: status %d: %s", w.Code, w.Body.String())
	}
	var ref models.ImageRef
	decodeBody(t, w, &ref)
	return ref
}

func TestPing(t *testing.T) {
	ts := newTestServer(t, nil)
	w := ts.do(t, http.MethodGet, "/api/ping_cav_server", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status: got %d", w.Code)
	}
}

func TestUploadImage_RejectsBadDataURI(t *testing.T) {
	ts := newTestServer(t, nil)
	w := ts.do(t, http.MethodPost, "/api/upload_image", map[string]string{"data224": "not a uri"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", w.Code)
	}
}

func TestGenerateAndInspect(t *testing.T) {
	ts := newTestServer(t, nil)

	var positives, negatives []models.ImageRef
	for i := 0; i < 3; i++ {
		shade := uint8(40 * i)
		positives = append(positives, ts.upload(t, color.NRGBA{R: 220, G: shade, B: 20, A: 255}))
		negatives = append(negatives, ts.upload(t, color.NRGBA{R: 20, G: shade, B: 220, A: 255}))
	}
	if !positives[0].UserGenerated {
		t.Fatal("uploads should be user-generated")
	}
	var searchImages []map[string]string
	for _, ref := range append(append([]models.ImageRef(nil), negatives...), positives...) {
		searchImages = append(searchImages, map[string]string{"id": ref.ID})
	}

	w := ts.do(t, http.MethodPost, "/api/generate_cav", map[string]interface{}{
		"positive_images": positives,
		"negative_images": negatives,
		"model_layer":     "mobilenet_12d",
		"search_set":      "custom",
		"search_images":   searchImages,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("generate_cav: status %d: %s", w.Code, w.Body.String())
	}
	var gen struct {
		Images    []models.ImageRef `json:"result_images"`
		Scores    []float32         `json:"result_scores"`
		CAVString string            `json:"cav_string"`
		CAVID     string            `json:"cav_id"`
		Stats     cav.Stats         `json:"cav_score_stats"`
	}
	decodeBody(t, w, &gen)
	if len(gen.Images) != 6 || len(gen.Scores) != 6 {
		t.Fatalf("results: %d images, %d scores", len(gen.Images), len(gen.Scores))
	}
	for _, ref := range gen.Images[:3] {
		if !containsRef(positives, ref) {
			t.Errorf("top results should be the positives, got %v", gen.Images)
		}
	}
	if gen.CAVString == "" || gen.Stats.Top5Mean <= gen.Stats.Mean {
		t.Errorf("unexpected summary %q or stats %+v", gen.CAVString, gen.Stats)
	}

	req := map[string]interface{}{"image": positives[0], "cav_id": gen.CAVID}
	w = ts.do(t, http.MethodPost, "/api/inspect", req)
	if w.Code != http.StatusOK {
		t.Fatalf("inspect: status %d: %s", w.Code, w.Body.String())
	}
	var insp struct {
		Heatmap string      `json:"heatmap"`
		TopCrop models.Rect `json:"top_crop"`
	}
	decodeBody(t, w, &insp)
	if !strings.HasPrefix(insp.Heatmap, "data:image/png;base64,") {
		t.Errorf("heatmap is not a PNG data URI: %.40s", insp.Heatmap)
	}
	if insp.TopCrop.Width <= 0 || insp.TopCrop.Width > 1 {
		t.Errorf("top crop: %+v", insp.TopCrop)
	}

	w = ts.do(t, http.MethodPost, "/api/crops", req)
	if w.Code != http.StatusOK {
		t.Fatalf("crops: status %d: %s", w.Code, w.Body.String())
	}
	var crops struct {
		TopCrop models.Rect   `json:"top_crop"`
		Crops   []models.Rect `json:"crops"`
		Scores  []float32     `json:"scores"`
	}
	decodeBody(t, w, &crops)
	if len(crops.Crops) != 14 || len(crops.Scores) != 14 || crops.Crops[0] != crops.TopCrop {
		t.Errorf("crops: %+v", crops)
	}

	w = ts.do(t, http.MethodPost, "/api/heatmap", req)
	if w.Code != http.StatusOK {
		t.Fatalf("heatmap: status %d: %s", w.Code, w.Body.String())
	}

	w = ts.do(t, http.MethodPost, "/api/heatmap", map[string]interface{}{"image": positives[0], "cav_id": uuid.NewString()})
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown cav: status %d, want 404", w.Code)
	}
	w = ts.do(t, http.MethodPost, "/api/heatmap", map[string]interface{}{"image": positives[0], "cav_id": "../x"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad cav id: status %d, want 400", w.Code)
	}
}

func containsRef(refs []models.ImageRef, ref models.ImageRef) bool {
	for _, r := range refs {
		if r == ref {
			return true
		}
	}
	return false
}

func TestGenerateCAV_UnknownLayer(t *testing.T) {
	ts := newTestServer(t, nil)
	ref := ts.upload(t, color.NRGBA{R: 200, A: 255})
	w := ts.do(t, http.MethodPost, "/api/generate_cav", map[string]interface{}{
		"positive_images": []models.ImageRef{ref},
		"negative_images": []models.ImageRef{ref},
		"model_layer":     "resnet_1",
		"search_set":      "custom",
		"search_images":   []map[string]string{{"id": ref.ID}},
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400 (%s)", w.Code, w.Body.String())
	}
}

func TestImageSet(t *testing.T) {
	ts := newTestServer(t, nil)
	if err := os.MkdirAll(filepath.Join(ts.static, "manifests"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(ts.static, "manifests", "v1.json"), []byte(`{"images":[{"id":"a"},{"id":"b"}]}`), 0644); err != nil {
		t.Fatal(err)
	}

	w := ts.do(t, http.MethodGet, "/api/image_set/v1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var out struct {
		Images []models.ImageRef `json:"images"`
	}
	decodeBody(t, w, &out)
	if len(out.Images) != 2 || out.Images[1].ID != "b" {
		t.Errorf("images: %+v", out.Images)
	}

	w = ts.do(t, http.MethodGet, "/api/image_set/v404", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing set: status %d, want 404", w.Code)
	}
}

func TestSnapshotEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)
	set := func(id string, data map[string]interface{}) {
		t.Helper()
		w := ts.do(t, http.MethodPost, "/api/db/set_snapshot", map[string]interface{}{"snapshotId": id, "snapshot": data})
		if w.Code != http.StatusOK {
			t.Fatalf("set_snapshot %s: status %d: %s", id, w.Code, w.Body.String())
		}
	}
	set("s1", map[string]interface{}{"projectId": "p1", "date": 1, "name": "Striped cats", "creatorName": "Ada"})
	set("s2", map[string]interface{}{"projectId": "p1", "date": 2, "name": "Striped cats v2", "creatorName": "Ada"})
	set("s3", map[string]interface{}{"projectId": "p2", "date": 3, "name": "Sunsets", "creatorName": "Lin"})

	w := ts.do(t, http.MethodGet, "/api/db/get_snapshot?snapshotId=s2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get_snapshot: status %d", w.Code)
	}
	var got struct {
		Result storage.Document `json:"result"`
	}
	decodeBody(t, w, &got)
	if got.Result.ID != "s2" || got.Result.Data["name"] != "Striped cats v2" {
		t.Errorf("get_snapshot: %+v", got.Result)
	}

	w = ts.do(t, http.MethodGet, "/api/db/get_all_snapshots_for_project_including_snapshot?snapshotId=s1", nil)
	var project struct {
		Results []storage.Document `json:"results"`
	}
	decodeBody(t, w, &project)
	if len(project.Results) != 2 || project.Results[0].ID != "s2" {
		t.Errorf("project snapshots: %+v", project.Results)
	}

	w = ts.do(t, http.MethodGet, "/api/db/search_snapshots?q=sunsets", nil)
	var hits struct {
		Results []catalog.Hit `json:"results"`
	}
	decodeBody(t, w, &hits)
	if len(hits.Results) != 1 || hits.Results[0].ID != "s3" {
		t.Errorf("search_snapshots: %+v", hits.Results)
	}

	w = ts.do(t, http.MethodPost, "/api/db/delete_snapshot", map[string]string{"snapshotId": "s3"})
	if w.Code != http.StatusOK {
		t.Fatalf("delete_snapshot: status %d", w.Code)
	}
	w = ts.do(t, http.MethodGet, "/api/db/get_user_projects_summary", nil)
	var summary struct {
		Results []storage.ProjectSummary `json:"results"`
	}
	decodeBody(t, w, &summary)
	if len(summary.Results) != 1 || summary.Results[0].ID != "p1" || summary.Results[0].LatestSnapshot.ID != "s2" {
		t.Errorf("projects summary: %+v", summary.Results)
	}

	w = ts.do(t, http.MethodPost, "/api/db/copy_snapshot_to_new_project", map[string]string{
		"srcSnapshotId": "s1", "dstSnapshotId": "s9", "dstProjectId": "p9", "dstName": "Copy",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("copy: status %d: %s", w.Code, w.Body.String())
	}
	w = ts.do(t, http.MethodGet, "/api/db/get_snapshot?snapshotId=s9", nil)
	decodeBody(t, w, &got)
	if got.Result.Data["projectId"] != "p9" || got.Result.Data["name"] != "Copy" {
		t.Errorf("copied snapshot: %+v", got.Result)
	}

	w = ts.do(t, http.MethodGet, "/api/db/get_snapshot?snapshotId=nope", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing snapshot: status %d, want 404", w.Code)
	}
	w = ts.do(t, http.MethodGet, "/api/db/get_all_snapshots_for_project_including_snapshot", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing snapshotId: status %d, want 400", w.Code)
	}
}

func TestSearchSetEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)
	for _, id := range []string{"a", "b"} {
		w := ts.do(t, http.MethodPost, "/api/db/set_search_set", map[string]interface{}{
			"searchSetId": id, "searchSet": map[string]interface{}{"name": "set " + id},
		})
		if w.Code != http.StatusOK {
			t.Fatalf("set_search_set: status %d", w.Code)
		}
	}
	w := ts.do(t, http.MethodPost, "/api/db/delete_search_set", map[string]string{"searchSetId": "a"})
	if w.Code != http.StatusOK {
		t.Fatalf("delete_search_set: status %d", w.Code)
	}

	w = ts.do(t, http.MethodGet, "/api/db/get_search_sets", nil)
	var list struct {
		Results []storage.Document `json:"results"`
	}
	decodeBody(t, w, &list)
	if len(list.Results) != 1 || list.Results[0].ID != "b" {
		t.Errorf("get_search_sets: %+v", list.Results)
	}

	w = ts.do(t, http.MethodGet, "/api/db/get_search_set?searchSetId=a", nil)
	var one struct {
		Result storage.Document `json:"result"`
	}
	decodeBody(t, w, &one)
	if one.Result.Data["deleted"] != true {
		t.Errorf("deleted search set should still be readable and flagged: %+v", one.Result)
	}
}

func TestStatus(t *testing.T) {
	ts := newTestServer(t, &mockWatchService{dirs: []string{"/tmp/inbox"}})
	w := ts.do(t, http.MethodGet, "/api/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var out map[string]interface{}
	decodeBody(t, w, &out)
	for _, key := range []string{"snapshots", "catalog_documents", "watch_directories", "disk_usage"} {
		if _, ok := out[key]; !ok {
			t.Errorf("status missing %q: %v", key, out)
		}
	}
}

func TestHandleWatchDirectories(t *testing.T) {
	mock := &mockWatchService{dirs: []string{"/tmp/inbox"}}
	ts := newTestServer(t, mock)

	dir := t.TempDir()
	w := ts.do(t, http.MethodPost, "/api/watch/directories", map[string]string{"path": dir})
	if w.Code != http.StatusCreated {
		t.Fatalf("add: status %d: %s", w.Code, w.Body.String())
	}
	w = ts.do(t, http.MethodGet, "/api/watch/directories", nil)
	var out struct {
		Directories []string `json:"directories"`
	}
	decodeBody(t, w, &out)
	if len(out.Directories) != 2 {
		t.Errorf("directories: got %v", out.Directories)
	}

	w = ts.do(t, http.MethodPost, "/api/watch/directories", map[string]string{"path": filepath.Join(dir, "missing")})
	if w.Code != http.StatusNotFound {
		t.Errorf("missing dir: status %d, want 404", w.Code)
	}

	w = ts.do(t, http.MethodDelete, "/api/watch/directories?path=/tmp/inbox", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("remove: status %d", w.Code)
	}
	if len(mock.dirs) != 1 {
		t.Errorf("after remove: %v", mock.dirs)
	}
}

func TestHandleWatchDirectories_NotEnabled(t *testing.T) {
	ts := newTestServer(t, nil)
	w := ts.do(t, http.MethodGet, "/api/watch/directories", nil)
	if w.Code != http.StatusNotImplemented {
		t.Errorf("status: got %d, want 501", w.Code)
	}
}
