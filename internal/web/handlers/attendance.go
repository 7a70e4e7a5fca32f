package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/hub"
	"github.com/kozaktomas/face-attendance/internal/scan"
	"github.com/kozaktomas/face-attendance/internal/timezone"
)

const (
	statsCacheKey = "stats"
	statsCacheTTL = 5 * time.Second
)

// AttendanceHandler handles scans and attendance history
type AttendanceHandler struct {
	identities database.IdentityReader
	decisions  database.DecisionReader
	pipeline   *scan.Pipeline
	cache      *cache.Cache
}

// NewAttendanceHandler creates a new attendance handler
func NewAttendanceHandler(identities database.IdentityReader, decisions database.DecisionReader, pipeline *scan.Pipeline) *AttendanceHandler {
	return &AttendanceHandler{
		identities: identities,
		decisions:  decisions,
		pipeline:   pipeline,
		// No janitor: expired entries are ignored by Get and overwritten by Set.
		cache: cache.New(statsCacheTTL, 0),
	}
}

// EncodingEntry is one enrolled reference vector
type EncodingEntry struct {
	UserID    int64     `json:"user_id"`
	Name      string    `json:"name"`
	Encoding  []float32 `json:"encoding"`
	ImagePath *string   `json:"image_path"`
}

// Encodings returns every enrolled reference vector for edge clients
func (h *AttendanceHandler) Encodings(w http.ResponseWriter, r *http.Request) {
	records, err := h.identities.ListEncodings(r.Context())
	if err != nil {
		respondStoreError(w, err, "no encodings")
		return
	}

	entries := make([]EncodingEntry, 0, len(records))
	for _, rec := range records {
		entry := EncodingEntry{UserID: rec.IdentityID, Name: rec.Name, Encoding: rec.Encoding}
		if rec.HasImage {
			url := userImageURL(rec.IdentityID)
			entry.ImagePath = &url
		}
		entries = append(entries, entry)
	}
	respondJSON(w, http.StatusOK, map[string]any{"encodings": entries})
}

// scanRequest is either a probe (encoding set) or a client verdict (status set).
type scanRequest struct {
	Encoding []float32 `json:"encoding"`
	UserID   *int64    `json:"user_id"`
	Status   string    `json:"status"`
	DeviceID *string   `json:"device_id"`
}

// ScanResponse is a recorded decision, with the match distance for probes
type ScanResponse struct {
	hub.DecisionEvent
	Distance *float64 `json:"distance,omitempty"`
}

func newScanResponse(res *scan.Result) ScanResponse {
	resp := ScanResponse{DecisionEvent: hub.NewDecisionEvent(res.Decision)}
	if d := res.Match.Distance; !math.IsNaN(d) && res.Decision.Outcome != database.OutcomeError {
		resp.Distance = &d
	}
	return resp
}

// Scan records one scan attempt
func (h *AttendanceHandler) Scan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	if req.Encoding == nil {
		if req.Status == "" {
			respondError(w, http.StatusBadRequest, "encoding or status is required")
			return
		}
		d, err := h.pipeline.Submit(r.Context(), scan.Verdict{
			IdentityID: req.UserID,
			Status:     req.Status,
			DeviceID:   req.DeviceID,
		})
		if err != nil {
			respondScanError(w, err)
			return
		}
		h.cache.Delete(statsCacheKey)
		respondJSON(w, http.StatusCreated, ScanResponse{DecisionEvent: hub.NewDecisionEvent(d)})
		return
	}

	res, err := h.pipeline.Scan(r.Context(), scan.Probe{Encoding: req.Encoding, DeviceID: req.DeviceID})
	h.respondScan(w, res, err)
}

// ScanImage encodes an uploaded camera frame and records the scan
func (h *AttendanceHandler) ScanImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxUploadSize)
	file, _, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "no file provided")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil || len(data) == 0 {
		respondError(w, http.StatusBadRequest, "empty file")
		return
	}

	var deviceID *string
	if d := r.FormValue("device_id"); d != "" {
		deviceID = &d
	}

	res, err := h.pipeline.ScanImage(r.Context(), data, deviceID)
	h.respondScan(w, res, err)
}

func (h *AttendanceHandler) respondScan(w http.ResponseWriter, res *scan.Result, err error) {
	if res != nil {
		h.cache.Delete(statsCacheKey)
	}
	switch {
	case err == nil:
		respondJSON(w, http.StatusCreated, newScanResponse(res))
	case res != nil && errors.Is(err, facematch.ErrDimensionMismatch):
		// Recorded and broadcast as an error decision.
		respondJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":    err.Error(),
			"decision": hub.NewDecisionEvent(res.Decision),
		})
	default:
		respondScanError(w, err)
	}
}

func respondScanError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scan.ErrInvalidVerdict):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, scan.ErrRecordingFailed):
		respondError(w, http.StatusServiceUnavailable, "recording failed, retry the scan")
	case errors.Is(err, scan.ErrNoEncoder):
		respondError(w, http.StatusServiceUnavailable, "face encoder not configured")
	default:
		respondEncodeError(w, err)
	}
}

// List returns attendance records newest first
func (h *AttendanceHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := parseDecisionFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	decisions, err := h.decisions.List(r.Context(), filter)
	if err != nil {
		respondStoreError(w, err, "no attendance records")
		return
	}
	respondJSON(w, http.StatusOK, decisionEvents(decisions))
}

func decisionEvents(decisions []database.Decision) []hub.DecisionEvent {
	out := make([]hub.DecisionEvent, 0, len(decisions))
	for i := range decisions {
		out = append(out, hub.NewDecisionEvent(&decisions[i]))
	}
	return out
}

type filterError string

func (e filterError) Error() string { return string(e) }

func parseDecisionFilter(r *http.Request) (database.DecisionFilter, error) {
	q := r.URL.Query()
	filter := database.DecisionFilter{}

	skip, err := queryInt(r, "skip", 0)
	if err != nil {
		return filter, err
	}
	limit, err := queryInt(r, "limit", constants.DefaultHandlerPageSize)
	if err != nil || limit < 1 || limit > constants.MaxAttendancePageSize {
		return filter, filterError("limit must be between 1 and " + strconv.Itoa(constants.MaxAttendancePageSize))
	}
	filter.Offset, filter.Limit = skip, limit

	if s := q.Get("user_id"); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil || id <= 0 {
			return filter, filterError("invalid user_id")
		}
		filter.IdentityID = &id
	}
	if s := q.Get("status"); s != "" {
		outcome, err := database.ParseOutcome(s)
		if err != nil {
			return filter, filterError("invalid status")
		}
		filter.Outcome = outcome
	}
	if s := q.Get("start_date"); s != "" {
		t, err := timezone.ParseStart(s)
		if err != nil {
			return filter, filterError("invalid start_date")
		}
		filter.Start = &t
	}
	if s := q.Get("end_date"); s != "" {
		t, err := timezone.ParseEnd(s)
		if err != nil {
			return filter, filterError("invalid end_date")
		}
		filter.End = &t
	}
	return filter, nil
}

// StatsResponse represents the attendance statistics response
type StatsResponse struct {
	TotalToday        int                 `json:"total_today"`
	TotalThisWeek     int                 `json:"total_this_week"`
	TotalThisMonth    int                 `json:"total_this_month"`
	TotalUsers        int                 `json:"total_users"`
	CheckedInToday    int                 `json:"checked_in_today"`
	CheckedInUsers    []string            `json:"checked_in_users"`
	NotCheckedInUsers []string            `json:"not_checked_in_users"`
	RecentScans       []hub.DecisionEvent `json:"recent_scans"`
}

// Stats returns today/week/month totals and today's check-in lists
func (h *AttendanceHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if cached, ok := h.cache.Get(statsCacheKey); ok {
		respondJSON(w, http.StatusOK, cached)
		return
	}

	stats, err := h.computeStats(r.Context(), timezone.Now())
	if err != nil {
		respondStoreError(w, err, "no statistics")
		return
	}
	h.cache.SetDefault(statsCacheKey, stats)
	respondJSON(w, http.StatusOK, stats)
}

func (h *AttendanceHandler) computeStats(ctx context.Context, now time.Time) (*StatsResponse, error) {
	today := timezone.StartOfDay(now)
	stats := &StatsResponse{}

	var (
		checkIns   []database.CheckIn
		identities []database.Identity
		recent     []database.Decision
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		stats.TotalToday, err = h.decisions.CountSince(ctx, today)
		return err
	})
	g.Go(func() (err error) {
		stats.TotalThisWeek, err = h.decisions.CountSince(ctx, timezone.StartOfWeek(now))
		return err
	})
	g.Go(func() (err error) {
		stats.TotalThisMonth, err = h.decisions.CountSince(ctx, timezone.StartOfMonth(now))
		return err
	})
	g.Go(func() (err error) {
		checkIns, err = h.decisions.CheckedInSince(ctx, today)
		return err
	})
	g.Go(func() (err error) {
		recent, err = h.decisions.List(ctx, database.DecisionFilter{Limit: constants.RecentScansLimit})
		return err
	})
	g.Go(func() error {
		total, err := h.identities.Count(ctx)
		if err != nil {
			return err
		}
		stats.TotalUsers = total
		identities, err = h.identities.List(ctx, database.IdentityFilter{Limit: max(total, 1)})
		return err
	})
	if err := g.Wait(); err != nil {
		slog.Error("computing attendance stats failed", "error", err)
		return nil, err
	}

	checked := make(map[int64]bool, len(checkIns))
	stats.CheckedInUsers = make([]string, 0, len(checkIns))
	for _, c := range checkIns {
		checked[c.IdentityID] = true
		stats.CheckedInUsers = append(stats.CheckedInUsers, c.Name)
	}
	stats.CheckedInToday = len(checked)

	stats.NotCheckedInUsers = []string{}
	for _, identity := range identities {
		if !checked[identity.ID] {
			stats.NotCheckedInUsers = append(stats.NotCheckedInUsers, identity.Name)
		}
	}
	sort.Strings(stats.NotCheckedInUsers)

	stats.RecentScans = decisionEvents(recent)
	return stats, nil
}
