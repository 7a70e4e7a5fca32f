package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/encoder"
	"github.com/kozaktomas/face-attendance/internal/scan"
	"github.com/kozaktomas/face-attendance/internal/timezone"
)

func TestAttendanceHandler_ScanProbe(t *testing.T) {
	env := newTestEnv(t)
	id := env.enroll("Nguyễn Văn An", "SV001", unitVector(0, 1))
	h := env.attendanceHandler()

	t.Run("match", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		h.Scan(recorder, jsonRequest(t, "POST", "/api/attendance/scan", map[string]any{
			"encoding":  unitVector(0, 1.1),
			"device_id": "gate-1",
		}))
		assertStatusCode(t, recorder, http.StatusCreated)

		var resp ScanResponse
		parseJSONResponse(t, recorder, &resp)
		if resp.Status != "matched" || resp.UserID == nil || *resp.UserID != id {
			t.Errorf("expected matched decision for %d, got %+v", id, resp)
		}
		if resp.UserName == nil || *resp.UserName != "Nguyễn Văn An" {
			t.Errorf("expected user name, got %v", resp.UserName)
		}
		if resp.Distance == nil {
			t.Error("expected distance for a probe scan")
		}
		if resp.DeviceID == nil || *resp.DeviceID != "gate-1" {
			t.Errorf("device id not recorded: %v", resp.DeviceID)
		}
	})

	t.Run("no match", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		h.Scan(recorder, jsonRequest(t, "POST", "/api/attendance/scan", map[string]any{
			"encoding": unitVector(1, 1),
		}))
		assertStatusCode(t, recorder, http.StatusCreated)

		var resp ScanResponse
		parseJSONResponse(t, recorder, &resp)
		if resp.Status != "rejected" || resp.UserID != nil || resp.UserName != nil {
			t.Errorf("rejected decision must not carry an identity: %+v", resp)
		}
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		h.Scan(recorder, jsonRequest(t, "POST", "/api/attendance/scan", map[string]any{
			"encoding": []float32{1, 2, 3},
		}))
		assertStatusCode(t, recorder, http.StatusUnprocessableEntity)

		var body struct {
			Error    string `json:"error"`
			Decision struct {
				Status string `json:"status"`
			} `json:"decision"`
		}
		parseJSONResponse(t, recorder, &body)
		if body.Decision.Status != "error" || body.Error == "" {
			t.Errorf("expected recorded error decision, got %+v", body)
		}
	})

	if got := len(env.decisions.All()); got != 3 {
		t.Errorf("expected 3 recorded decisions, got %d", got)
	}
}

func TestAttendanceHandler_ScanVerdict(t *testing.T) {
	env := newTestEnv(t)
	id := env.enroll("An", "SV001", unitVector(0, 1))
	h := env.attendanceHandler()

	tests := []struct {
		name   string
		body   map[string]any
		status int
		want   string
	}{
		{"legacy success", map[string]any{"user_id": id, "status": "success"}, http.StatusCreated, "matched"},
		{"legacy failed drops user", map[string]any{"user_id": id, "status": "failed"}, http.StatusCreated, "rejected"},
		{"unknown", map[string]any{"status": "unknown"}, http.StatusCreated, "rejected"},
		{"success without user", map[string]any{"status": "success"}, http.StatusBadRequest, ""},
		{"success for missing user", map[string]any{"user_id": id + 1000, "status": "success"}, http.StatusBadRequest, ""},
		{"bogus status", map[string]any{"status": "maybe"}, http.StatusBadRequest, ""},
		{"empty body", map[string]any{}, http.StatusBadRequest, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			h.Scan(recorder, jsonRequest(t, "POST", "/api/attendance/scan", tc.body))
			assertStatusCode(t, recorder, tc.status)
			if tc.want == "" {
				return
			}
			var resp ScanResponse
			parseJSONResponse(t, recorder, &resp)
			if resp.Status != tc.want {
				t.Errorf("status = %q, want %q", resp.Status, tc.want)
			}
			if tc.want != "matched" && resp.UserID != nil {
				t.Errorf("non-matched verdict kept user %d", *resp.UserID)
			}
			if resp.Distance != nil {
				t.Error("verdicts carry no distance")
			}
		})
	}

	if n := len(env.decisions.All()); n != 3 {
		t.Errorf("recorded %d decisions, want 3", n)
	}
	env.published.mu.Lock()
	defer env.published.mu.Unlock()
	if n := len(env.published.ids); n != 3 {
		t.Errorf("published %d decisions, want 3", n)
	}
}

func TestAttendanceHandler_ScanRecordFailure(t *testing.T) {
	env := newTestEnv(t)
	env.enroll("An", "SV001", unitVector(0, 1))
	env.decisions.RecordError = errors.New("connection reset")

	recorder := httptest.NewRecorder()
	env.attendanceHandler().Scan(recorder, jsonRequest(t, "POST", "/", map[string]any{"encoding": unitVector(0, 1)}))
	assertStatusCode(t, recorder, http.StatusServiceUnavailable)
	if len(env.published.ids) != 0 {
		t.Error("nothing should be broadcast when recording fails")
	}
}

func TestAttendanceHandler_ScanImage(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(env *testEnv)
		status int
	}{
		{
			name:   "encoded face",
			setup:  func(env *testEnv) { env.encoder.vector = unitVector(0, 1) },
			status: http.StatusCreated,
		},
		{
			name:   "no face",
			setup:  func(env *testEnv) { env.encoder.err = encoder.ErrNoFaceDetected },
			status: http.StatusBadRequest,
		},
		{
			name:   "encoder down",
			setup:  func(env *testEnv) { env.encoder.err = errors.New("connection refused") },
			status: http.StatusBadGateway,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.enroll("An", "SV001", unitVector(0, 1))
			tc.setup(env)

			recorder := httptest.NewRecorder()
			req := multipartRequest(t, "/api/attendance/scan/image", testJPEG(t), map[string]string{"device_id": "kiosk"})
			env.attendanceHandler().ScanImage(recorder, req)
			assertStatusCode(t, recorder, tc.status)
		})
	}
}

func TestAttendanceHandler_ScanImageWithoutEncoder(t *testing.T) {
	env := newTestEnv(t)
	env.pipeline = scan.New(scan.Deps{
		Store:     env.store,
		Threshold: env.settings,
		Recorder:  env.decisions,
		Publisher: env.published,
	})

	recorder := httptest.NewRecorder()
	env.attendanceHandler().ScanImage(recorder, multipartRequest(t, "/", testJPEG(t), nil))
	assertStatusCode(t, recorder, http.StatusServiceUnavailable)
}

func TestAttendanceHandler_List(t *testing.T) {
	env := newTestEnv(t)
	an := env.enroll("An", "SV001", unitVector(0, 1))
	env.enroll("Binh", "SV002", unitVector(1, 1))
	ctx := context.Background()
	for _, v := range [][]float32{unitVector(0, 1), unitVector(1, 1), unitVector(2, 1)} {
		if _, err := env.pipeline.Scan(ctx, scan.Probe{Encoding: v}); err != nil {
			t.Fatal(err)
		}
	}
	h := env.attendanceHandler()
	today := timezone.Now().Format("2006-01-02")

	tests := []struct {
		name   string
		query  string
		status int
		count  int
	}{
		{"all", "", http.StatusOK, 3},
		{"by user", "?user_id=" + strconv.FormatInt(an, 10), http.StatusOK, 1},
		{"matched only", "?status=matched", http.StatusOK, 2},
		{"legacy failed alias", "?status=failed", http.StatusOK, 1},
		{"today", "?start_date=" + today + "&end_date=" + today, http.StatusOK, 3},
		{"far past", "?end_date=2001-01-01", http.StatusOK, 0},
		{"paged", "?skip=1&limit=1", http.StatusOK, 1},
		{"invalid date", "?start_date=yesterday", http.StatusBadRequest, 0},
		{"invalid status", "?status=late", http.StatusBadRequest, 0},
		{"limit too large", "?limit=50001", http.StatusBadRequest, 0},
		{"invalid user", "?user_id=abc", http.StatusBadRequest, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			h.List(recorder, httptest.NewRequest("GET", "/api/attendance"+tc.query, nil))
			assertStatusCode(t, recorder, tc.status)
			if tc.status != http.StatusOK {
				return
			}
			var events []ScanResponse
			parseJSONResponse(t, recorder, &events)
			if len(events) != tc.count {
				t.Errorf("expected %d records, got %d", tc.count, len(events))
			}
		})
	}

	recorder := httptest.NewRecorder()
	h.List(recorder, httptest.NewRequest("GET", "/api/attendance", nil))
	var events []ScanResponse
	parseJSONResponse(t, recorder, &events)
	if len(events) == 3 && events[0].ID < events[2].ID {
		t.Error("expected newest record first")
	}
}

func TestAttendanceHandler_Stats(t *testing.T) {
	env := newTestEnv(t)
	env.enroll("Chi", "SV003", unitVector(2, 1))
	env.enroll("An", "SV001", unitVector(0, 1))
	env.enroll("Binh", "SV002", unitVector(1, 1))
	ctx := context.Background()
	for _, v := range [][]float32{unitVector(0, 1), unitVector(0, 1), unitVector(5, 1)} {
		if _, err := env.pipeline.Scan(ctx, scan.Probe{Encoding: v}); err != nil {
			t.Fatal(err)
		}
	}
	h := env.attendanceHandler()

	recorder := httptest.NewRecorder()
	h.Stats(recorder, httptest.NewRequest("GET", "/api/attendance/stats", nil))
	assertStatusCode(t, recorder, http.StatusOK)

	var stats StatsResponse
	parseJSONResponse(t, recorder, &stats)
	if stats.TotalToday != 3 || stats.TotalThisWeek != 3 || stats.TotalThisMonth != 3 {
		t.Errorf("unexpected totals %+v", stats)
	}
	if stats.TotalUsers != 3 || stats.CheckedInToday != 1 {
		t.Errorf("expected 3 users with 1 checked in, got %d/%d", stats.TotalUsers, stats.CheckedInToday)
	}
	if len(stats.CheckedInUsers) != 1 || stats.CheckedInUsers[0] != "An" {
		t.Errorf("unexpected checked in users %v", stats.CheckedInUsers)
	}
	if len(stats.NotCheckedInUsers) != 2 || stats.NotCheckedInUsers[0] != "Binh" || stats.NotCheckedInUsers[1] != "Chi" {
		t.Errorf("expected sorted [Binh Chi], got %v", stats.NotCheckedInUsers)
	}
	if len(stats.RecentScans) != 3 {
		t.Errorf("expected 3 recent scans, got %d", len(stats.RecentScans))
	}
}

func TestAttendanceHandler_StatsCacheInvalidatedByScan(t *testing.T) {
	env := newTestEnv(t)
	env.enroll("An", "SV001", unitVector(0, 1))
	h := env.attendanceHandler()

	total := func() int {
		recorder := httptest.NewRecorder()
		h.Stats(recorder, httptest.NewRequest("GET", "/api/attendance/stats", nil))
		var stats StatsResponse
		parseJSONResponse(t, recorder, &stats)
		return stats.TotalToday
	}

	if got := total(); got != 0 {
		t.Fatalf("expected 0 scans, got %d", got)
	}

	// Recorded behind the handler's back: cached value still served.
	if _, err := env.pipeline.Scan(context.Background(), scan.Probe{Encoding: unitVector(0, 1)}); err != nil {
		t.Fatal(err)
	}
	if got := total(); got != 0 {
		t.Errorf("expected cached 0, got %d", got)
	}

	recorder := httptest.NewRecorder()
	h.Scan(recorder, jsonRequest(t, "POST", "/", map[string]any{"encoding": unitVector(0, 1)}))
	assertStatusCode(t, recorder, http.StatusCreated)
	if got := total(); got != 2 {
		t.Errorf("expected 2 after scan through handler, got %d", got)
	}
}

func TestAttendanceHandler_StatsError(t *testing.T) {
	env := newTestEnv(t)
	env.decisions.CountError = errors.New("db down")

	recorder := httptest.NewRecorder()
	env.attendanceHandler().Stats(recorder, httptest.NewRequest("GET", "/", nil))
	assertStatusCode(t, recorder, http.StatusInternalServerError)
}

func TestAttendanceHandler_Encodings(t *testing.T) {
	env := newTestEnv(t)
	env.identities.AddIdentity(database.Identity{Name: "An", Code: "SV001", Encoding: unitVector(0, 1), ImagePath: "user_1.jpg"})
	env.identities.AddIdentity(database.Identity{Name: "Binh", Code: "SV002", Encoding: unitVector(1, 1)})
	env.identities.AddIdentity(database.Identity{Name: "Chi", Code: "SV003"})

	recorder := httptest.NewRecorder()
	env.attendanceHandler().Encodings(recorder, httptest.NewRequest("GET", "/api/attendance/encodings", nil))
	assertStatusCode(t, recorder, http.StatusOK)

	var body struct {
		Encodings []EncodingEntry `json:"encodings"`
	}
	parseJSONResponse(t, recorder, &body)
	if len(body.Encodings) != 2 {
		t.Fatalf("expected 2 enrolled encodings, got %d", len(body.Encodings))
	}
	withImage := 0
	for _, e := range body.Encodings {
		if len(e.Encoding) != len(unitVector(0, 1)) {
			t.Errorf("encoding of %s has %d values", e.Name, len(e.Encoding))
		}
		if e.ImagePath != nil {
			withImage++
		}
	}
	if withImage != 1 {
		t.Errorf("expected one image url, got %d", withImage)
	}
}

func TestParseDecisionFilter_DateBounds(t *testing.T) {
	req := httptest.NewRequest("GET", "/?start_date=2024-03-01&end_date=2024-03-01", nil)
	filter, err := parseDecisionFilter(req)
	if err != nil {
		t.Fatal(err)
	}
	if filter.Start == nil || filter.End == nil {
		t.Fatal("expected both bounds")
	}
	if !filter.End.After(*filter.Start) || filter.End.Sub(*filter.Start) > 24*time.Hour {
		t.Errorf("end %v should close the day started at %v", filter.End, filter.Start)
	}
}
