package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"ytmusicdl/internal/extractor"
	"ytmusicdl/internal/job"
	"ytmusicdl/internal/metrics"
	"ytmusicdl/internal/removable"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const videoURL = "https://www.youtube.com/watch?v=dQw4w9WgXcQ"

// stubRunner emits lines once release is closed, then exits with exitErr.
type stubRunner struct {
	lines   []string
	release chan struct{}
	exitErr error
}

func (r *stubRunner) Start(ctx context.Context, _ extractor.Invocation) (extractor.Process, error) {
	pr, pw := io.Pipe()
	p := &stubProcess{out: pr, done: make(chan struct{})}
	go func() {
		defer close(p.done)
		defer pw.Close()
		if r.release != nil {
			select {
			case <-r.release:
			case <-ctx.Done():
				p.err = ctx.Err()
				return
			}
		}
		for _, l := range r.lines {
			if _, err := io.WriteString(pw, l+"\n"); err != nil {
				p.err = err
				return
			}
		}
		p.err = r.exitErr
	}()
	return p, nil
}

type stubProcess struct {
	out  io.Reader
	done chan struct{}
	err  error
}

func (p *stubProcess) Output() io.Reader      { return p.out }
func (p *stubProcess) Diagnostics() io.Reader { return strings.NewReader("") }
func (p *stubProcess) Wait() error {
	<-p.done
	return p.err
}

type stubProber struct {
	info extractor.Info
	err  error
}

func (s stubProber) Probe(context.Context, string) (extractor.Info, error) { return s.info, s.err }

type stubLister struct {
	entries []extractor.Entry
	err     error
}

func (s stubLister) List(context.Context, string) ([]extractor.Entry, error) { return s.entries, s.err }

func newTestAPI(t *testing.T, runner extractor.Runner, opts Options) (*gin.Engine, *job.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	manager := job.NewManager(job.Options{
		DefaultDir:        t.TempDir(),
		MaxConcurrentJobs: 1,
		Runner:            runner,
	})
	opts.Jobs = manager
	router := gin.New()
	apiHandler := NewAPI(opts)
	apiHandler.RegisterRoutes(router)
	apiHandler.RegisterUIRoutes(router)
	return router, manager
}

func doJSON(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func waitState(t *testing.T, m *job.Manager, id string, want job.State) job.Job {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if j, ok := m.Get(id); ok && j.State == want {
			return j
		}
		time.Sleep(5 * time.Millisecond)
	}
	j, _ := m.Get(id)
	t.Fatalf("timeout waiting for %s, job is %+v", want, j)
	return job.Job{}
}

func TestCreateJobAndGet(t *testing.T) {
	router, manager := newTestAPI(t, &stubRunner{lines: []string{"[download]  50.0% of 1.00MiB"}}, Options{})

	w := doJSON(router, http.MethodPost, "/api/v1/jobs", `{"url":"`+videoURL+`","quality":"320"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected status %d, got %d: %s", http.StatusAccepted, w.Code, w.Body.String())
	}
	var created map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	id, _ := created["job_id"].(string)
	if id == "" {
		t.Fatalf("expected non-empty job_id")
	}
	if status, _ := created["status"].(string); status == "" {
		t.Fatalf("expected a status, got %v", created["status"])
	}

	waitState(t, manager, id, job.StateCompleted)
	w = doJSON(router, http.MethodGet, "/api/v1/jobs/"+id, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var got jobResponse
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Status != "completed" || got.Progress != 100 || got.FilePath == "" || got.Quality != extractor.QualityHigh {
		t.Fatalf("unexpected job response: %+v", got)
	}

	w = doJSON(router, http.MethodGet, "/api/v1/jobs", "")
	var list []jobResponse
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil || len(list) != 1 {
		t.Fatalf("expected one job in list, got %s (%v)", w.Body.String(), err)
	}
}

func TestCreateJobValidation(t *testing.T) {
	router, _ := newTestAPI(t, &stubRunner{}, Options{})

	cases := map[string]string{
		"bad json":     `{`,
		"other host":   `{"url":"https://vimeo.com/1"}`,
		"bad quality":  `{"url":"` + videoURL + `","quality":"64"}`,
		"missing path": `{"url":"https://youtube.com"}`,
	}
	for name, body := range cases {
		if w := doJSON(router, http.MethodPost, "/api/v1/jobs", body); w.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", name, w.Code)
		}
	}
}

func TestGetUnknownJob(t *testing.T) {
	router, _ := newTestAPI(t, &stubRunner{}, Options{})
	if w := doJSON(router, http.MethodGet, "/api/v1/jobs/nope", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if w := doJSON(router, http.MethodDelete, "/api/v1/jobs/nope", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestCancelJob(t *testing.T) {
	runner := &stubRunner{release: make(chan struct{})}
	router, manager := newTestAPI(t, runner, Options{})

	id, err := manager.Submit(job.Request{SourceURL: videoURL})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitState(t, manager, id, job.StateStarting)

	if w := doJSON(router, http.MethodDelete, "/api/v1/jobs/"+id, ""); w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	j := waitState(t, manager, id, job.StateFailed)
	if j.Reason != job.ReasonCancelled {
		t.Fatalf("expected cancelled, got %s", j.Reason)
	}
	if w := doJSON(router, http.MethodDelete, "/api/v1/jobs/"+id, ""); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for finished job, got %d", w.Code)
	}
}

func TestJobEventsStream(t *testing.T) {
	runner := &stubRunner{
		release: make(chan struct{}),
		lines: []string{
			"[download]  25.0% of 2.00MiB at 1.00MiB/s ETA 00:02",
			"[download]  75.0% of 2.00MiB at 1.00MiB/s ETA 00:01",
		},
	}
	router, manager := newTestAPI(t, runner, Options{})
	server := httptest.NewServer(router)
	defer server.Close()

	id, err := manager.Submit(job.Request{SourceURL: videoURL})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	resp, err := http.Get(server.URL + "/api/v1/jobs/" + id + "/events")
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("unexpected content type %q", ct)
	}
	close(runner.release)

	var records []eventRecord
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		var rec eventRecord
		if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &rec); err != nil {
			t.Fatalf("bad event %q: %v", line, err)
		}
		records = append(records, rec)
	}
	if len(records) < 3 {
		t.Fatalf("expected at least 3 events, got %+v", records)
	}
	last := records[len(records)-1]
	if last.Status != "completed" || last.Progress != 100 || last.ID != id {
		t.Fatalf("unexpected terminal record: %+v", last)
	}
	var sawDownloading bool
	for _, r := range records {
		if r.Status == "downloading" && r.Speed == "1.00MiB/s" {
			sawDownloading = true
		}
	}
	if !sawDownloading {
		t.Fatalf("expected a downloading record with speed, got %+v", records)
	}
}

func TestJobEventsUnknownJob(t *testing.T) {
	router, _ := newTestAPI(t, &stubRunner{}, Options{})
	if w := doJSON(router, http.MethodGet, "/api/v1/jobs/missing/events", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestInfo(t *testing.T) {
	info := extractor.Info{Title: "Song", Duration: "3:00", Uploader: "Band"}
	router, _ := newTestAPI(t, &stubRunner{}, Options{Prober: stubProber{info: info}})

	w := doJSON(router, http.MethodPost, "/api/v1/info", `{"url":"`+videoURL+`"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var got extractor.Info
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil || got != info {
		t.Fatalf("unexpected info %s (%v)", w.Body.String(), err)
	}

	if w := doJSON(router, http.MethodPost, "/api/v1/info", `{"url":"https://example.com/x"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}

	failing, _ := newTestAPI(t, &stubRunner{}, Options{Prober: stubProber{err: fmt.Errorf("%w: exit 1", extractor.ErrProbe)}})
	if w := doJSON(failing, http.MethodPost, "/api/v1/info", `{"url":"`+videoURL+`"}`); w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
}

func TestCreatePlaylist(t *testing.T) {
	lister := stubLister{entries: []extractor.Entry{
		{VideoID: "a", URL: "https://www.youtube.com/watch?v=a"},
		{VideoID: "b", URL: "https://www.youtube.com/watch?v=b"},
	}}
	router, manager := newTestAPI(t, &stubRunner{}, Options{Playlists: lister})

	w := doJSON(router, http.MethodPost, "/api/v1/playlists", `{"url":"https://www.youtube.com/playlist?list=PL1","quality":"flac"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	var resp playlistResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.Count != 2 {
		t.Fatalf("unexpected playlist response %s (%v)", w.Body.String(), err)
	}
	for _, id := range resp.JobIDs {
		j, ok := manager.Get(id)
		if !ok || j.Request.Quality != extractor.QualityLossless {
			t.Fatalf("job %s not submitted as lossless: %+v", id, j)
		}
	}

	notPlaylist, _ := newTestAPI(t, &stubRunner{}, Options{Playlists: stubLister{err: extractor.ErrNotPlaylist}})
	if w := doJSON(notPlaylist, http.MethodPost, "/api/v1/playlists", `{"url":"`+videoURL+`"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestDrivesAndCopy(t *testing.T) {
	var observed []error
	opts := Options{
		ListDrives: func(context.Context) ([]removable.Drive, error) {
			return []removable.Drive{{Name: "USB", Path: "/media/u/USB", Capacity: 10, Available: 5}}, nil
		},
		Copy: func(_ context.Context, src, dst string) (removable.CopyResult, error) {
			if strings.Contains(src, "missing") {
				return removable.CopyResult{}, fmt.Errorf("%w: open source", removable.ErrCopyFailure)
			}
			return removable.CopyResult{Path: dst + "/song.mp3", Bytes: 42, MIME: "audio/mpeg"}, nil
		},
		CopyObserver: func(_ int64, err error) { observed = append(observed, err) },
	}
	router, _ := newTestAPI(t, &stubRunner{}, opts)

	w := doJSON(router, http.MethodGet, "/api/v1/drives", "")
	var drives []removable.Drive
	if err := json.Unmarshal(w.Body.Bytes(), &drives); err != nil || len(drives) != 1 || drives[0].Name != "USB" {
		t.Fatalf("unexpected drives %s (%v)", w.Body.String(), err)
	}

	w = doJSON(router, http.MethodPost, "/api/v1/drives/copy", `{"source_path":"/music/song.mp3","destination":"/media/u/USB"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	w = doJSON(router, http.MethodPost, "/api/v1/drives/copy", `{"source_path":"/music/missing.mp3","destination":"/media/u/USB"}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}
	w = doJSON(router, http.MethodPost, "/api/v1/drives/copy", `{"source_path":""}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if len(observed) != 2 || observed[0] != nil || !errors.Is(observed[1], removable.ErrCopyFailure) {
		t.Fatalf("unexpected observed copies: %v", observed)
	}
}

func TestDrivesError(t *testing.T) {
	router, _ := newTestAPI(t, &stubRunner{}, Options{
		ListDrives: func(context.Context) ([]removable.Drive, error) { return nil, removable.ErrDriveQuery },
	})
	if w := doJSON(router, http.MethodGet, "/api/v1/drives", ""); w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	router, _ := newTestAPI(t, &stubRunner{}, Options{})
	reg := prometheus.NewRegistry()
	m := metrics.New("ytmusicdl", reg)
	m.JobSubmitted()
	RegisterMetricsRoute(router, reg)

	if w := doJSON(router, http.MethodGet, "/health", ""); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected health response %d %s", w.Code, w.Body.String())
	}
	w := doJSON(router, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "ytmusicdl_jobs_submitted_total 1") {
		t.Fatalf("unexpected metrics output %d %s", w.Code, w.Body.String())
	}
}

func TestUIFlow(t *testing.T) {
	router, manager := newTestAPI(t, &stubRunner{release: make(chan struct{})}, Options{})

	w := doJSON(router, http.MethodGet, "/", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "New download") {
		t.Fatalf("unexpected home page %d", w.Code)
	}

	form := url.Values{"url": {videoURL}, "quality": {"medium"}}
	req := httptest.NewRequest(http.MethodPost, "/ui/jobs", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusFound {
		t.Fatalf("expected redirect, got %d: %s", w.Code, w.Body.String())
	}
	location := w.Header().Get("Location")
	if !strings.HasPrefix(location, "/ui/jobs/") {
		t.Fatalf("unexpected redirect %q", location)
	}
	id := strings.TrimPrefix(location, "/ui/jobs/")

	w = doJSON(router, http.MethodGet, location, "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), id) || !strings.Contains(w.Body.String(), `http-equiv="refresh"`) {
		t.Fatalf("unexpected job page %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/ui/jobs/"+id+"/cancel", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusFound {
		t.Fatalf("expected redirect after cancel, got %d", w.Code)
	}
	waitState(t, manager, id, job.StateFailed)

	form = url.Values{"url": {"https://example.com/x"}}
	req = httptest.NewRequest(http.MethodPost, "/ui/jobs", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "Error:") {
		t.Fatalf("expected error page, got %d", w.Code)
	}
}

type countingLister struct {
	stubLister
	calls int
}

func (l *countingLister) List(ctx context.Context, u string) ([]extractor.Entry, error) {
	l.calls++
	return l.stubLister.List(ctx, u)
}

func TestCreatePlaylistChecksOptionsBeforeListing(t *testing.T) {
	lister := &countingLister{stubLister: stubLister{entries: []extractor.Entry{{VideoID: "a", URL: "https://www.youtube.com/watch?v=a"}}}}
	router, _ := newTestAPI(t, &stubRunner{}, Options{Playlists: lister})

	w := doJSON(router, http.MethodPost, "/api/v1/playlists", `{"url":"https://www.youtube.com/playlist?list=PL1","quality":"64"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if lister.calls != 0 {
		t.Fatalf("playlist fetched despite invalid quality")
	}
}

func TestCreatePlaylistReportsPartialSubmission(t *testing.T) {
	lister := stubLister{entries: []extractor.Entry{
		{VideoID: "a", URL: "https://www.youtube.com/watch?v=a"},
		{VideoID: "b", URL: "https://vimeo.com/b"},
	}}
	router, manager := newTestAPI(t, &stubRunner{}, Options{Playlists: lister})

	w := doJSON(router, http.MethodPost, "/api/v1/playlists", `{"url":"https://www.youtube.com/playlist?list=PL1"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	var resp struct {
		Error  string   `json:"error"`
		JobIDs []string `json:"job_ids"`
		Count  int      `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Error == "" || resp.Count != 1 || len(resp.JobIDs) != 1 {
		t.Fatalf("expected the queued job alongside the error, got %s", w.Body.String())
	}
	if _, ok := manager.Get(resp.JobIDs[0]); !ok {
		t.Fatalf("reported job %s is unknown", resp.JobIDs[0])
	}
}
