package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/Mmx233/ChatRelay/protocol"
	"github.com/Mmx233/ChatRelay/server/auth"
	"github.com/Mmx233/ChatRelay/server/blob"
	"github.com/Mmx233/ChatRelay/server/notify"
	"github.com/Mmx233/ChatRelay/server/store"
)

// multipart memory threshold; larger parts spill to temp files.
const maxFormMemory = 8 << 20

type loginRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type loginResponse struct {
	Success bool                  `json:"success"`
	User    *protocol.UserProfile `json:"user"`
}

// Login looks up a user profile by email.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := protocol.Validate(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := a.users.Get(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		a.logger.Error().Err(err).Str("email", req.Email).Msg("login lookup failed")
		writeError(w, http.StatusInternalServerError, "Failed to login")
		return
	}

	profile := user.Profile()
	writeJSON(w, http.StatusOK, loginResponse{Success: true, User: &profile})
}

type otpRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

type successResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// SendOTP mails a verification code generated by the client.
func (a *API) SendOTP(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Email == "" || req.OTP == "" {
		writeError(w, http.StatusBadRequest, "Email and OTP are required")
		return
	}

	var original string
	if a.mailOverrideTo != "" {
		original = req.Email
	}
	if err := a.mail.Send(r.Context(), req.Email, notify.OTPSubject, notify.OTPBody(req.OTP, original)); err != nil {
		a.logger.Error().Err(err).Str("email", req.Email).Msg("send otp failed")
		writeError(w, http.StatusInternalServerError, "Failed to send OTP")
		return
	}

	writeJSON(w, http.StatusOK, successResponse{Success: true, Message: "OTP sent successfully"})
}

type signupForm struct {
	Email       string `validate:"required,email"`
	FirstName   string `validate:"required"`
	LastName    string `validate:"required"`
	Gender      string `validate:"required"`
	DateOfBirth string `validate:"required"`
	UseInitials bool
}

// CompleteSignup stores a new user profile, uploading the optional picture
// to the blob store first.
func (a *API) CompleteSignup(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.maxUploadSize+maxFormMemory)
	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "Upload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	useInitials, _ := strconv.ParseBool(r.FormValue("useInitials"))
	form := signupForm{
		Email:       r.FormValue("email"),
		FirstName:   r.FormValue("firstName"),
		LastName:    r.FormValue("lastName"),
		Gender:      r.FormValue("gender"),
		DateOfBirth: r.FormValue("dateOfBirth"),
		UseInitials: useInitials,
	}
	if err := protocol.Validate(form); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := a.now().UTC()
	logger := a.logger.With().Str("email", form.Email).Logger()

	var pictureURL *string
	file, header, err := r.FormFile("profilePicture")
	switch {
	case errors.Is(err, http.ErrMissingFile):
	case err != nil:
		writeError(w, http.StatusBadRequest, "Invalid profile picture")
		return
	default:
		defer file.Close()
		if header.Size > a.maxUploadSize {
			writeError(w, http.StatusRequestEntityTooLarge, "Upload too large")
			return
		}
		body, err := io.ReadAll(file)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid profile picture")
			return
		}
		key := blob.ProfilePictureKey(form.Email, header.Filename, now)
		url, err := a.blobs.Put(r.Context(), key, body, header.Header.Get("Content-Type"))
		if err != nil {
			if errors.Is(err, blob.ErrTooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "Upload too large")
				return
			}
			logger.Error().Err(err).Str("key", key).Msg("profile picture upload failed")
			writeError(w, http.StatusInternalServerError, "Failed to complete signup")
			return
		}
		pictureURL = &url
	}

	user := &store.User{
		Email:             form.Email,
		FirstName:         form.FirstName,
		LastName:          form.LastName,
		Gender:            form.Gender,
		DateOfBirth:       form.DateOfBirth,
		ProfilePictureURL: pictureURL,
		UseInitials:       form.UseInitials,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := a.users.Put(r.Context(), user); err != nil {
		logger.Error().Err(err).Msg("save user failed")
		writeError(w, http.StatusInternalServerError, "Failed to complete signup")
		return
	}

	logger.Info().Bool("picture", pictureURL != nil).Msg("signup completed")
	writeJSON(w, http.StatusOK, successResponse{Success: true, Message: "Signup completed successfully"})
}

type refreshResponse struct {
	AccessToken string `json:"accessToken"`
}

// Refresh exchanges the refresh_token cookie for a new access token.
func (a *API) Refresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(RefreshTokenCookie)
	if err != nil || cookie.Value == "" {
		writeError(w, http.StatusUnauthorized, "No refresh token")
		return
	}

	claims, err := a.tokens.Verify(cookie.Value, auth.KindRefresh)
	if err != nil {
		a.logger.Debug().Err(err).Msg("refresh token rejected")
		writeError(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}

	access, err := a.tokens.IssueAccess(claims.User)
	if err != nil {
		a.logger.Error().Err(err).Msg("issue access token failed")
		writeError(w, http.StatusInternalServerError, "Failed to refresh token")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     AccessTokenCookie,
		Value:    access,
		Path:     "/",
		MaxAge:   int(AccessCookieTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, refreshResponse{AccessToken: access})
}
