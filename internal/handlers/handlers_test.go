package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"html"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hacknation/dozin/internal/metrics"
	"github.com/hacknation/dozin/internal/models"
	"github.com/hacknation/dozin/internal/services"
	"github.com/hacknation/dozin/internal/session"
	"github.com/hacknation/dozin/internal/storage"
)

type failingCheck struct{}

func (failingCheck) HealthCheck(ctx context.Context) error { return errors.New("unreachable") }

type testApp struct {
	router  *mux.Router
	handler *Handler
	store   *storage.MemoryStore
	blobs   *storage.MemoryBlobStore
	view    *services.LiveView
	m       *metrics.Metrics
}

func newTestApp(t *testing.T, checks map[string]HealthChecker) *testApp {
	t.Helper()
	blobs := storage.NewMemoryBlobStore("http://test/blobs")
	app := newTestAppWithBlobs(t, checks, blobs)
	app.blobs = blobs
	return app
}

func newTestAppWithBlobs(t *testing.T, checks map[string]HealthChecker, blobs services.BlobStore) *testApp {
	t.Helper()

	store := storage.NewMemoryStore()
	view := services.NewLiveView(store)
	require.NoError(t, view.Activate(context.Background()))
	t.Cleanup(view.Deactivate)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, view.WaitReady(ctx))

	m := metrics.New("test")
	pipeline := services.NewPipeline(services.NewUploader(blobs, nil), store, nil).WithMetrics(m)
	h, err := NewHandler("../../web/templates", session.NewRegistry(time.Hour, nil), pipeline, store, view, checks)
	require.NoError(t, err)

	r := mux.NewRouter()
	h.WithMetrics(m).Register(r)
	return &testApp{router: r, handler: h, store: store, view: view, m: m}
}

// client replays the session cookie between requests
type client struct {
	app    *testApp
	cookie *http.Cookie
}

func (c *client) do(req *http.Request) *httptest.ResponseRecorder {
	if c.cookie != nil {
		req.AddCookie(c.cookie)
	}
	w := httptest.NewRecorder()
	c.app.router.ServeHTTP(w, req)
	for _, ck := range w.Result().Cookies() {
		if ck.Name == SessionCookie {
			c.cookie = ck
		}
	}
	return w
}

func (c *client) htmx(method, target string, body *strings.Reader) *httptest.ResponseRecorder {
	var req *http.Request
	if body == nil {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, body)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("HX-Request", "true")
	return c.do(req)
}

func multipartBody(t *testing.T, fields map[string]string, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for name, data := range files {
		fw, err := mw.CreateFormFile("images", name)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func validFields() map[string]string {
	return map[string]string{
		models.FieldCategory:    models.CategoryMobile,
		models.FieldCity:        "هەولێر",
		models.FieldDescription: "Black Samsung phone",
		models.FieldPhone:       "07501234567",
		models.FieldDate:        "2026-10-14",
	}
}

func waitForListings(t *testing.T, view *services.LiveView, n int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for len(view.Listings()) < n {
		select {
		case <-view.Changed():
		case <-deadline:
			t.Fatalf("expected %d listings, have %d", n, len(view.Listings()))
		}
	}
}

func TestIndexStartsSessionAndShowsModePicker(t *testing.T) {
	app := newTestApp(t, nil)
	c := &client{app: app}

	w := c.do(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `action="/mode/found"`)
	require.NotNil(t, c.cookie)

	w = c.do(httptest.NewRequest(http.MethodPost, "/mode/lost", nil))
	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/lost", w.Header().Get("Location"))

	w = c.do(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/lost", w.Header().Get("Location"))
}

func TestSelectModeRejectsUnknownMode(t *testing.T) {
	app := newTestApp(t, nil)
	c := &client{app: app}

	w := c.do(httptest.NewRequest(http.MethodPost, "/mode/unselected", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFoundFlowSubmitsListing(t *testing.T) {
	app := newTestApp(t, nil)
	c := &client{app: app}

	w := c.do(httptest.NewRequest(http.MethodGet, "/found", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/found/form/open")

	w = c.htmx(http.MethodPost, "/found/form/open", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `name="description"`)

	body, ctype := multipartBody(t, map[string]string{models.FieldDescription: "Black Samsung phone"}, map[string][]byte{
		"front.png": []byte("png-bytes"),
		"huge.png":  bytes.Repeat([]byte{1}, int(services.MaxImageSize)+1),
	})
	req := httptest.NewRequest(http.MethodPost, "/found/images", body)
	req.Header.Set("Content-Type", ctype)
	req.Header.Set("HX-Request", "true")
	w = c.do(req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "front.png")
	assert.Contains(t, w.Body.String(), html.EscapeString(services.OversizedMessage("huge.png")))
	assert.Contains(t, w.Body.String(), "Black Samsung phone", "typed text survives staging")
	assert.Equal(t, 1.0, testutil.ToFloat64(app.m.ImagesRejectedTotal))

	w = c.htmx(http.MethodPost, "/found/submit", strings.NewReader(url.Values{
		models.FieldCategory:    {models.CategoryMobile},
		models.FieldCity:        {"هەولێر"},
		models.FieldDescription: {"Black Samsung phone"},
		models.FieldPhone:       {"07501234567"},
		models.FieldDate:        {"2026-10-14"},
	}.Encode()))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), services.MsgSubmitted)
	assert.Contains(t, w.Body.String(), "/found/form/open", "form closes after success")

	waitForListings(t, app.view, 1)
	l := app.view.Listings()[0]
	assert.Equal(t, "هەولێر", l.City)
	require.Len(t, l.Images, 1)
	assert.True(t, strings.HasPrefix(l.Images[0], "http://test/blobs/images/"))
	assert.True(t, strings.HasSuffix(l.Images[0], "_front.png"))
}

func TestFoundSubmitShowsFieldErrors(t *testing.T) {
	app := newTestApp(t, nil)
	c := &client{app: app}

	c.do(httptest.NewRequest(http.MethodGet, "/found", nil))
	c.htmx(http.MethodPost, "/found/form/open", nil)

	w := c.htmx(http.MethodPost, "/found/submit", strings.NewReader(url.Values{
		models.FieldDescription: {"short"},
	}.Encode()))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), services.MsgDescriptionRequired)
	assert.Contains(t, w.Body.String(), services.MsgCityRequired)

	listings, err := app.store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, listings)
}

func TestCancelDiscardsDraft(t *testing.T) {
	app := newTestApp(t, nil)
	c := &client{app: app}

	c.do(httptest.NewRequest(http.MethodGet, "/found", nil))
	c.htmx(http.MethodPost, "/found/form/open", nil)
	c.htmx(http.MethodPost, "/found/submit", strings.NewReader(url.Values{models.FieldPhone: {"0770"}}.Encode()))

	w := c.htmx(http.MethodPost, "/found/form/cancel", nil)
	assert.Contains(t, w.Body.String(), "/found/form/open")

	w = c.htmx(http.MethodPost, "/found/form/open", nil)
	assert.NotContains(t, w.Body.String(), `value="0770"`)
}

func TestLostFilters(t *testing.T) {
	app := newTestApp(t, nil)
	ctx := context.Background()
	for _, l := range []models.Listing{
		{Category: models.CategoryMoney, City: "هەولێر", Description: "envelope of cash", Phone: "07500000001", Date: "2026-01-01"},
		{Category: models.CategoryMobile, City: "دهۆک", Description: "iphone in a red case", Phone: "07500000002", Date: "2026-01-02"},
		{Category: models.CategoryMoney, City: "دهۆک", Description: "wallet with dinars", Phone: "07500000003", Date: "2026-01-03"},
		{Category: models.CategoryMoney, City: "سلێمانی", Description: "coins in a jar", Phone: "07500000004", Date: "2026-01-04"},
	} {
		_, err := app.store.Create(ctx, l)
		require.NoError(t, err)
	}
	waitForListings(t, app.view, 4)

	c := &client{app: app}
	w := c.do(httptest.NewRequest(http.MethodGet, "/lost", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "coins in a jar")

	c.htmx(http.MethodPost, "/lost/category", strings.NewReader(url.Values{"category": {models.CategoryMoney}}.Encode()))
	c.htmx(http.MethodPost, "/lost/cities/toggle", strings.NewReader(url.Values{"city": {"هەولێر"}}.Encode()))
	w = c.htmx(http.MethodPost, "/lost/cities/toggle", strings.NewReader(url.Values{"city": {"دهۆک"}}.Encode()))

	body := w.Body.String()
	assert.Contains(t, body, "envelope of cash")
	assert.Contains(t, body, "wallet with dinars")
	assert.NotContains(t, body, "iphone in a red case")
	assert.NotContains(t, body, "coins in a jar")
}

func TestAPICreateAndList(t *testing.T) {
	app := newTestApp(t, nil)

	body, ctype := multipartBody(t, validFields(), map[string][]byte{"a.jpg": []byte("jpeg")})
	req := httptest.NewRequest(http.MethodPost, "/api/listings", body)
	req.Header.Set("Content-Type", ctype)
	w := httptest.NewRecorder()
	app.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created struct {
		Listing models.Listing `json:"listing"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotEmpty(t, created.Listing.ID)
	assert.Len(t, created.Listing.Images, 1)

	waitForListings(t, app.view, 1)

	w = httptest.NewRecorder()
	app.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/listings?category=mobile&city="+url.QueryEscape("هەولێر"), nil))
	require.Equal(t, http.StatusOK, w.Code)
	var listed struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	assert.Equal(t, 1, listed.Count)

	w = httptest.NewRecorder()
	app.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/listings?city="+url.QueryEscape("زاخۆ"), nil))
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	assert.Equal(t, 0, listed.Count)

	w = httptest.NewRecorder()
	app.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/listings/"+created.Listing.ID, nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	app.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/listings/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAPICreateValidationErrors(t *testing.T) {
	app := newTestApp(t, nil)

	fields := validFields()
	fields[models.FieldDescription] = "short"
	body, ctype := multipartBody(t, fields, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/listings", body)
	req.Header.Set("Content-Type", ctype)
	w := httptest.NewRecorder()
	app.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var resp struct {
		Errors map[string]string `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, map[string]string{models.FieldDescription: services.MsgDescriptionRequired}, resp.Errors)
}

func TestCatalog(t *testing.T) {
	app := newTestApp(t, nil)
	w := httptest.NewRecorder()
	app.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/catalog", nil))

	var resp struct {
		Categories []models.Option `json:"categories"`
		Cities     []string        `json:"cities"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Categories, 8)
	assert.Len(t, resp.Cities, 10)
}

func TestStreamSendsInitialSnapshot(t *testing.T) {
	app := newTestApp(t, nil)
	_, err := app.store.Create(context.Background(), models.Listing{
		Category: models.CategoryKeys, City: "زاخۆ", Description: "car keys on a ring", Phone: "07500000009", Date: "2026-02-02",
	})
	require.NoError(t, err)

	srv := httptest.NewServer(app.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/listings/stream?category=keys", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	buf := make([]byte, 4096)
	var got strings.Builder
	for !strings.Contains(got.String(), "\n\n") {
		n, err := resp.Body.Read(buf)
		got.Write(buf[:n])
		require.NoError(t, err)
	}
	assert.Contains(t, got.String(), "event: listings\n")
	assert.Contains(t, got.String(), "car keys on a ring")
}

func TestHealthCheck(t *testing.T) {
	app := newTestApp(t, map[string]HealthChecker{"store": storage.NewMemoryStore()})
	w := httptest.NewRecorder()
	app.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)

	app = newTestApp(t, map[string]HealthChecker{"blobs": failingCheck{}})
	w = httptest.NewRecorder()
	app.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "unreachable")
}

func TestWriteEventSplitsLines(t *testing.T) {
	w := httptest.NewRecorder()
	require.NoError(t, writeEvent(w, "listings", []byte("<div>\n<p>x</p>\n</div>")))
	assert.Equal(t, "event: listings\ndata: <div>\ndata: <p>x</p>\ndata: </div>\n\n", w.Body.String())
}

// gatedBlobStore holds every Put until release is closed
type gatedBlobStore struct {
	*storage.MemoryBlobStore
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedBlobStore() *gatedBlobStore {
	return &gatedBlobStore{
		MemoryBlobStore: storage.NewMemoryBlobStore("http://test/blobs"),
		entered:         make(chan struct{}),
		release:         make(chan struct{}),
	}
}

func (b *gatedBlobStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	b.once.Do(func() { close(b.entered) })
	select {
	case <-b.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return b.MemoryBlobStore.Put(ctx, key, data, contentType)
}

func TestSubmissionSurvivesRequestCancel(t *testing.T) {
	blobs := newGatedBlobStore()
	app := newTestAppWithBlobs(t, nil, blobs)

	body, ctype := multipartBody(t, validFields(), map[string][]byte{"a.jpg": []byte("jpeg")})
	reqCtx, cancelReq := context.WithCancel(context.Background())
	defer cancelReq()
	req := httptest.NewRequest(http.MethodPost, "/api/listings", body).WithContext(reqCtx)
	req.Header.Set("Content-Type", ctype)

	w := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		app.router.ServeHTTP(w, req)
	}()

	select {
	case <-blobs.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("upload never started")
	}
	cancelReq()
	time.Sleep(20 * time.Millisecond)
	close(blobs.release)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("submission did not finish")
	}
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	listings, err := app.store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.Len(t, listings[0].Images, 1)
}

func TestSubmissionTimeoutFailsUpload(t *testing.T) {
	blobs := newGatedBlobStore()
	app := newTestAppWithBlobs(t, nil, blobs)
	app.handler.WithSubmitTimeout(50 * time.Millisecond)

	body, ctype := multipartBody(t, validFields(), map[string][]byte{"a.jpg": []byte("jpeg")})
	req := httptest.NewRequest(http.MethodPost, "/api/listings", body)
	req.Header.Set("Content-Type", ctype)
	w := httptest.NewRecorder()
	app.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadGateway, w.Code)
	listings, err := app.store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, listings)
}

func TestStreamClosesWithStreamContext(t *testing.T) {
	app := newTestApp(t, nil)
	streams, stopStreams := context.WithCancel(context.Background())
	defer stopStreams()
	app.handler.WithStreamContext(streams)

	srv := httptest.NewServer(app.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/listings/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	buf := make([]byte, 4096)
	var got strings.Builder
	for !strings.Contains(got.String(), "\n\n") {
		n, err := resp.Body.Read(buf)
		got.Write(buf[:n])
		require.NoError(t, err)
	}

	stopStreams()
	_, err = io.ReadAll(resp.Body)
	assert.NoError(t, err, "stream should end cleanly once the stream context is done")
}
