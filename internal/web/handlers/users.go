package handlers

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/encoder"
	"github.com/kozaktomas/face-attendance/internal/encodings"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/scan"
	"github.com/kozaktomas/face-attendance/internal/timezone"
)

const maxUserLimit = 1000

// UsersHandler handles identity management and enrollment
type UsersHandler struct {
	identities   database.IdentityWriter
	store        *encodings.Store
	encoder      scan.Encoder
	threshold    scan.ThresholdSource
	deletePolicy database.DeletePolicy
	imagesDir    string
	maxImageSize int
}

// UsersConfig carries the collaborators of a UsersHandler.
type UsersConfig struct {
	Identities   database.IdentityWriter
	Store        *encodings.Store
	Encoder      scan.Encoder // nil disables enrollment
	Threshold    scan.ThresholdSource
	DeletePolicy database.DeletePolicy
	ImagesDir    string
	MaxImageSize int
}

// NewUsersHandler creates a new users handler
func NewUsersHandler(cfg UsersConfig) *UsersHandler {
	policy := cfg.DeletePolicy
	if policy == "" {
		policy = database.DeletePolicyCascade
	}
	return &UsersHandler{
		identities:   cfg.Identities,
		store:        cfg.Store,
		encoder:      cfg.Encoder,
		threshold:    cfg.Threshold,
		deletePolicy: policy,
		imagesDir:    cfg.ImagesDir,
		maxImageSize: cfg.MaxImageSize,
	}
}

// UserResponse is the JSON form of an identity
type UserResponse struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Code        string  `json:"code"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
	HasEncoding bool    `json:"has_encoding"`
	ImagePath   *string `json:"image_path"`
}

func userImageURL(id int64) string {
	return fmt.Sprintf("/api/users/%d/image", id)
}

func newUserResponse(identity *database.Identity) UserResponse {
	resp := UserResponse{
		ID:          identity.ID,
		Name:        identity.Name,
		Code:        identity.Code,
		CreatedAt:   timezone.Format(identity.CreatedAt),
		UpdatedAt:   timezone.Format(identity.UpdatedAt),
		HasEncoding: identity.HasEncoding(),
	}
	if identity.ImagePath != "" {
		url := userImageURL(identity.ID)
		resp.ImagePath = &url
	}
	return resp
}

type userRequest struct {
	Name *string `json:"name"`
	Code *string `json:"code"`
}

// validateName rejects empty names and names containing commas.
func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("name is required")
	}
	if strings.Contains(name, ",") {
		return "", errors.New("name must not contain commas")
	}
	return name, nil
}

// List returns identities, optionally filtered by q
func (h *UsersHandler) List(w http.ResponseWriter, r *http.Request) {
	skip, err := queryInt(r, "skip", 0)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := queryInt(r, "limit", constants.DefaultHandlerPageSize)
	if err != nil || limit == 0 || limit > maxUserLimit {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxUserLimit))
		return
	}

	identities, err := h.identities.List(r.Context(), database.IdentityFilter{
		Offset: skip,
		Limit:  limit,
		Query:  strings.TrimSpace(r.URL.Query().Get("q")),
	})
	if err != nil {
		respondStoreError(w, err, "user not found")
		return
	}

	resp := make([]UserResponse, 0, len(identities))
	for i := range identities {
		resp = append(resp, newUserResponse(&identities[i]))
	}
	respondJSON(w, http.StatusOK, resp)
}

// Get returns a single identity
func (h *UsersHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	identity, err := h.identities.Get(r.Context(), id)
	if err != nil {
		respondStoreError(w, err, "user not found")
		return
	}
	respondJSON(w, http.StatusOK, newUserResponse(identity))
}

// Create adds a new identity without an encoding
func (h *UsersHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.Name == nil || req.Code == nil {
		respondError(w, http.StatusBadRequest, "name and code are required")
		return
	}
	name, err := validateName(*req.Name)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	code := strings.TrimSpace(*req.Code)
	if code == "" {
		respondError(w, http.StatusBadRequest, "code is required")
		return
	}

	identity := &database.Identity{Name: name, Code: code}
	if err := h.identities.Create(r.Context(), identity); err != nil {
		respondStoreError(w, err, "user not found")
		return
	}
	respondJSON(w, http.StatusCreated, newUserResponse(identity))
}

// Update changes name and/or code
func (h *UsersHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	var req userRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	identity, err := h.identities.Get(r.Context(), id)
	if err != nil {
		respondStoreError(w, err, "user not found")
		return
	}
	if req.Name != nil {
		name, err := validateName(*req.Name)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		identity.Name = name
	}
	if req.Code != nil {
		code := strings.TrimSpace(*req.Code)
		if code == "" {
			respondError(w, http.StatusBadRequest, "code must not be empty")
			return
		}
		identity.Code = code
	}

	if err := h.identities.Update(r.Context(), identity); err != nil {
		respondStoreError(w, err, "user not found")
		return
	}
	h.store.Rename(identity.ID, identity.Name)
	respondJSON(w, http.StatusOK, newUserResponse(identity))
}

// Delete removes an identity, its image and its reference vector
func (h *UsersHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	identity, err := h.identities.Get(r.Context(), id)
	if err != nil {
		respondStoreError(w, err, "user not found")
		return
	}
	if err := h.identities.Delete(r.Context(), id, h.deletePolicy); err != nil {
		respondStoreError(w, err, "user not found")
		return
	}
	h.store.Remove(id)
	h.removeImage(identity.ImagePath)
	w.WriteHeader(http.StatusNoContent)
}

// SimilarIdentity is an enrolled identity close to a new enrollment
type SimilarIdentity struct {
	UserID   int64   `json:"user_id"`
	Name     string  `json:"name"`
	Distance float64 `json:"distance"`
}

// EnrollResponse is the result of an enrollment
type EnrollResponse struct {
	UserResponse
	Similar []SimilarIdentity `json:"similar"`
}

// Enroll computes the encoding of an uploaded face image and stores it with the image
func (h *UsersHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	if h.encoder == nil {
		respondError(w, http.StatusServiceUnavailable, "face encoder not configured")
		return
	}

	identity, err := h.identities.Get(r.Context(), id)
	if err != nil {
		respondStoreError(w, err, "user not found")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxUploadSize)
	file, _, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "no file provided")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read file")
		return
	}
	if len(data) == 0 {
		respondError(w, http.StatusBadRequest, "empty file")
		return
	}

	image, err := encoder.NormalizeImage(data, h.maxImageSize)
	if err != nil {
		respondError(w, http.StatusBadRequest, "unsupported or corrupt image")
		return
	}

	enc, err := h.encoder.Encode(r.Context(), image)
	if err != nil {
		respondEncodeError(w, err)
		return
	}

	similar := h.similar(id, enc)

	filename := fmt.Sprintf("user_%d_%d.jpg", id, time.Now().UnixNano())
	if err := h.saveImage(filename, image); err != nil {
		slog.Error("saving enrollment image failed", "user", id, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to save image")
		return
	}

	updated, err := h.identities.SetEncoding(r.Context(), id, enc, filename)
	if err != nil {
		h.removeImage(filename)
		respondStoreError(w, err, "user not found")
		return
	}
	if identity.ImagePath != "" && identity.ImagePath != filename {
		h.removeImage(identity.ImagePath)
	}
	h.store.Upsert(updated.ID, updated.Name, enc)

	slog.Info("identity enrolled", "user", id, "similar", len(similar))
	respondJSON(w, http.StatusOK, EnrollResponse{
		UserResponse: newUserResponse(updated),
		Similar:      similar,
	})
}

// respondEncodeError maps encoder failures to client and gateway errors.
func respondEncodeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, encoder.ErrNoFaceDetected):
		respondError(w, http.StatusBadRequest,
			"no face detected; make sure the face is clear, well lit, unobstructed and facing the camera")
	case errors.Is(err, encoder.ErrMultipleFaces):
		respondError(w, http.StatusBadRequest, "more than one face detected")
	default:
		slog.Error("face encoding failed", "error", err)
		respondError(w, http.StatusBadGateway, "face encoder unavailable")
	}
}

// similar returns other identities within twice the match threshold of enc.
func (h *UsersHandler) similar(self int64, enc []float32) []SimilarIdentity {
	candidates := h.store.Snapshot()
	if len(candidates) == 0 {
		return []SimilarIdentity{}
	}
	limit := constants.DefaultDistanceThreshold
	if h.threshold != nil {
		limit = h.threshold.Threshold()
	}

	index := facematch.NewIndex(candidates)
	out := []SimilarIdentity{}
	for _, n := range index.Within(enc, constants.DuplicateSuggestionLimit+1, 2*limit) {
		if n.ID == self {
			continue
		}
		out = append(out, SimilarIdentity{UserID: n.ID, Name: n.Name, Distance: n.Distance})
		if len(out) == constants.DuplicateSuggestionLimit {
			break
		}
	}
	return out
}

func (h *UsersHandler) imagePath(filename string) string {
	return filepath.Join(h.imagesDir, filepath.Base(filename))
}

func (h *UsersHandler) saveImage(filename string, data []byte) error {
	if err := os.MkdirAll(h.imagesDir, 0o755); err != nil {
		return fmt.Errorf("create images dir: %w", err)
	}
	if err := os.WriteFile(h.imagePath(filename), data, 0o644); err != nil { //nolint:gosec // image files are served publicly
		return fmt.Errorf("write image: %w", err)
	}
	return nil
}

func (h *UsersHandler) removeImage(filename string) {
	if filename == "" {
		return
	}
	if err := os.Remove(h.imagePath(filename)); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("removing image failed", "file", filename, "error", err)
	}
}

// Image serves the enrollment image of an identity
func (h *UsersHandler) Image(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	identity, err := h.identities.Get(r.Context(), id)
	if err != nil {
		respondStoreError(w, err, "user image not found")
		return
	}
	if identity.ImagePath == "" {
		respondError(w, http.StatusNotFound, "user image not found")
		return
	}

	f, err := os.Open(h.imagePath(identity.ImagePath))
	if err != nil {
		respondError(w, http.StatusNotFound, "user image file not found")
		return
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read image")
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`inline; filename="user_%d.jpg"`, id))
	http.ServeContent(w, r, "", stat.ModTime(), f)
}
