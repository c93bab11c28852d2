package handler

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"go-identity-service/internal/middleware"
	"go-identity-service/internal/model"
	"go-identity-service/internal/storage"
	"go-identity-service/pkg/apierror"
)

type userService interface {
	List(ctx context.Context) ([]model.PublicUser, error)
	ListByRole(ctx context.Context, role string) ([]model.PublicUser, error)
	GetByID(ctx context.Context, id string) (model.PublicUser, error)
	GetByUsername(ctx context.Context, username string) (model.PublicUser, error)
	Update(ctx context.Context, actor model.AuthClaims, id string, patch model.UserPatch) (model.PublicUser, error)
	Delete(ctx context.Context, actor model.AuthClaims, id string) error
	UpdateProfileImage(ctx context.Context, id string, upload io.Reader) (model.PublicUser, error)
	ProfileImage(ctx context.Context, id string) (io.ReadCloser, error)
}

// multipartOverhead is the slack allowed on top of the image limit for
// boundaries and part headers.
const multipartOverhead = 64 << 10

type UserHandler struct {
	service        userService
	maxUploadBytes int64
}

func NewUserHandler(service userService, maxUploadBytes int64) *UserHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 5 << 20
	}
	return &UserHandler{service: service, maxUploadBytes: maxUploadBytes}
}

func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, "", model.UserList{Users: users, Total: len(users)})
}

func (h *UserHandler) ListByRole(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListByRole(r.Context(), chi.URLParam(r, "role"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, "", model.UserList{Users: users, Total: len(users)})
}

func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	user, err := h.service.GetByID(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, "", user)
}

func (h *UserHandler) GetByUsername(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimSpace(chi.URLParam(r, "username"))
	if username == "" {
		writeError(w, apierror.BadRequest("username is required", "username"))
		return
	}

	user, err := h.service.GetByUsername(r.Context(), username)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, "", user)
}

func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, apierror.Unauthorized("authentication required"))
		return
	}
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	var payload model.UpdateUserRequest
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, err)
		return
	}

	patch := model.UserPatch{Username: payload.Username, Email: payload.Email}
	if payload.Role != nil {
		role, valid := model.ParseRole(*payload.Role)
		if !valid {
			writeError(w, apierror.BadRequest("invalid role", *payload.Role))
			return
		}
		patch.Role = &role
	}

	user, err := h.service.Update(r.Context(), *claims, userID, patch)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, "user updated", user)
}

func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, apierror.Unauthorized("authentication required"))
		return
	}
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), *claims, userID); err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, "user deleted", map[string]any{"deleted": true})
}

// UpdateProfileImage takes the first "image" (or "file") part of a multipart
// body, or the whole body when it is sent with an image content type.
func (h *UserHandler) UpdateProfileImage(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	defer r.Body.Close()
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+multipartOverhead)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var upload io.Reader
	switch {
	case mediaType == "multipart/form-data":
		part, err := imagePart(r)
		if err != nil {
			writeError(w, err)
			return
		}
		defer part.Close()
		upload = part
	case storage.IsProfileImageMIME(mediaType):
		upload = r.Body
	default:
		writeError(w, apierror.New("UNSUPPORTED_MEDIA_TYPE", "expected multipart/form-data or an image body", mediaType, http.StatusUnsupportedMediaType))
		return
	}

	user, err := h.service.UpdateProfileImage(r.Context(), userID, upload)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, "profile image updated", user)
}

func imagePart(r *http.Request) (io.ReadCloser, error) {
	reader, err := r.MultipartReader()
	if err != nil {
		return nil, apierror.BadRequest("invalid multipart body", "")
	}

	for {
		part, nextErr := reader.NextPart()
		if nextErr == io.EOF {
			return nil, apierror.BadRequest("image part is required", "image")
		}
		if nextErr != nil {
			if isPayloadTooLarge(nextErr) {
				return nil, apierror.New("PAYLOAD_TOO_LARGE", "image exceeds the upload limit", "", http.StatusRequestEntityTooLarge)
			}
			return nil, apierror.BadRequest("invalid multipart stream", "")
		}

		if (part.FormName() == "image" || part.FormName() == "file") && part.FileName() != "" {
			return part, nil
		}
		_ = part.Close()
	}
}

func isPayloadTooLarge(err error) bool {
	var maxBytesErr *http.MaxBytesError
	return errors.As(err, &maxBytesErr)
}

func (h *UserHandler) ProfileImage(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	image, err := h.service.ProfileImage(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	defer image.Close()

	w.Header().Set("Content-Type", storage.ProfileImageContentType)
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": userID + ".jpg"}))
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, image)
}

func userIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := strings.TrimSpace(chi.URLParam(r, "id"))
	if userID == "" {
		writeError(w, apierror.BadRequest("user id is required", "id"))
		return "", false
	}
	return userID, true
}
