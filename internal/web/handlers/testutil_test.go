package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/database/mock"
	"github.com/kozaktomas/face-attendance/internal/encodings"
	"github.com/kozaktomas/face-attendance/internal/scan"
	"github.com/kozaktomas/face-attendance/internal/settings"
)

// fakeEncoder returns a fixed vector or error
type fakeEncoder struct {
	vector []float32
	err    error
}

func (e *fakeEncoder) Encode(context.Context, []byte) ([]float32, error) {
	return e.vector, e.err
}

// recordingPublisher captures published decisions
type recordingPublisher struct {
	mu  sync.Mutex
	ids []int64
}

func (p *recordingPublisher) Publish(d *database.Decision) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids = append(p.ids, d.ID)
}

// testEnv wires handlers to in-memory repositories
type testEnv struct {
	identities *mock.MockIdentityRepository
	decisions  *mock.MockDecisionRepository
	settings   *settings.Service
	store      *encodings.Store
	encoder    *fakeEncoder
	published  *recordingPublisher
	pipeline   *scan.Pipeline
	imagesDir  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	identities := mock.NewMockIdentityRepository()
	decisions := mock.NewMockDecisionRepository()
	identities.Decisions = decisions
	decisions.Identities = identities

	env := &testEnv{
		identities: identities,
		decisions:  decisions,
		settings:   settings.NewService(mock.NewMockSettingsRepository(), constants.DefaultDistanceThreshold, 0),
		store:      encodings.NewStore(identities),
		encoder:    &fakeEncoder{},
		published:  &recordingPublisher{},
		imagesDir:  t.TempDir(),
	}
	env.pipeline = scan.New(scan.Deps{
		Store:     env.store,
		Threshold: env.settings,
		Recorder:  decisions,
		Publisher: env.published,
		Encoder:   env.encoder,
	})
	return env
}

func (e *testEnv) usersHandler() *UsersHandler {
	return NewUsersHandler(UsersConfig{
		Identities: e.identities,
		Store:      e.store,
		Encoder:    e.encoder,
		Threshold:  e.settings,
		ImagesDir:  e.imagesDir,
	})
}

func (e *testEnv) attendanceHandler() *AttendanceHandler {
	return NewAttendanceHandler(e.identities, e.decisions, e.pipeline)
}

// enroll adds an identity with a vector to the repository and the store
func (e *testEnv) enroll(name, code string, vector []float32) int64 {
	id := e.identities.AddIdentity(database.Identity{Name: name, Code: code, Encoding: vector})
	e.store.Upsert(id, name, vector)
	return id
}

func unitVector(axis int, scale float32) []float32 {
	v := make([]float32, constants.EncodingDim)
	v[axis] = scale
	return v
}

// jsonRequest creates a request with a JSON body
func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal body: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// multipartRequest creates a request uploading data as the "file" field
func multipartRequest(t *testing.T, path string, data []byte, fields map[string]string) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			t.Fatalf("failed to write field: %v", err)
		}
	}
	part, err := writer.CreateFormFile("file", "face.jpg")
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

// testJPEG returns a small encoded image
func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for x := range 32 {
		for y := range 32 {
			img.Set(x, y, color.RGBA{R: uint8(x * 8), G: uint8(y * 8), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}
