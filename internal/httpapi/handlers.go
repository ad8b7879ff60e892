package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/MrEthical07/adminauth"
	"github.com/MrEthical07/adminauth/middleware"
	"github.com/go-chi/chi/v5"
)

type handler struct {
	engine *adminauth.Engine
	logger *slog.Logger
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,max=254"`
	Password string `json:"password" validate:"required,max=1024"`
	TOTPCode string `json:"totp_code" validate:"omitempty,numeric,max=8"`
}

type loginResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	SessionID   string    `json:"session_id"`
	Role        string    `json:"role"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type forgotPasswordRequest struct {
	Email string `json:"email" validate:"required,max=254"`
}

type resetPasswordRequest struct {
	Token       string `json:"token" validate:"required,max=256"`
	NewPassword string `json:"new_password" validate:"required,max=1024"`
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password" validate:"required,max=1024"`
	NewPassword string `json:"new_password" validate:"required,max=1024"`
}

type codeRequest struct {
	Code string `json:"code" validate:"required,numeric,min=6,max=10"`
}

type disableTOTPRequest struct {
	Code     string `json:"code" validate:"omitempty,numeric,max=8"`
	Password string `json:"password" validate:"max=1024"`
}

type emailChangeRequest struct {
	NewEmail string `json:"new_email" validate:"required,max=254"`
	TOTPCode string `json:"totp_code" validate:"omitempty,numeric,max=8"`
}

type totpSetupResponse struct {
	Secret          string    `json:"secret"`
	ProvisioningURI string    `json:"provisioning_uri"`
	QRCodePNG       []byte    `json:"qr_code_png,omitempty"`
	ExpiresAt       time.Time `json:"expires_at"`
}

type emailStatusResponse struct {
	State     adminauth.EmailChangeState `json:"state"`
	NewEmail  string                     `json:"new_email,omitempty"`
	Attempts  int                        `json:"attempts,omitempty"`
	ExpiresAt *time.Time                 `json:"expires_at,omitempty"`
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "ok"})
}

func (h *handler) issueCSRF(w http.ResponseWriter, _ *http.Request) {
	token, err := h.engine.CSRF().Issue(w)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"csrf_token": token,
		"header":     h.engine.CSRF().HeaderName(),
	})
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.engine.Login(r.Context(), req.Email, req.Password, req.TOTPCode)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: res.AccessToken,
		TokenType:   "Bearer",
		SessionID:   res.SessionID,
		Role:        res.Role,
		ExpiresAt:   res.ExpiresAt,
	})
}

func (h *handler) me(w http.ResponseWriter, r *http.Request) {
	res, _ := middleware.AuthResultFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"account_id":          res.AccountID,
		"session_id":          res.SessionID,
		"role":                res.Role,
		"two_factor_verified": res.TwoFactorVerified,
	})
}

func (h *handler) logout(w http.ResponseWriter, r *http.Request) {
	res, _ := middleware.AuthResultFromContext(r.Context())
	if err := h.engine.Logout(r.Context(), res.SessionID); err != nil {
		writeError(w, err)
		return
	}
	h.engine.CSRF().Clear(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) logoutAll(w http.ResponseWriter, r *http.Request) {
	res, _ := middleware.AuthResultFromContext(r.Context())
	if err := h.engine.LogoutAll(r.Context(), res.AccountID); err != nil {
		writeError(w, err)
		return
	}
	h.engine.CSRF().Clear(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.engine.RequestPasswordReset(r.Context(), req.Email); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, MessageEnvelope{Message: "if the address belongs to an account, a reset link has been sent"})
}

func (h *handler) validateResetToken(w http.ResponseWriter, r *http.Request) {
	if _, err := h.engine.ValidateResetToken(r.Context(), chi.URLParam(r, "token")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": true})
}

func (h *handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.engine.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "password updated"})
}

func (h *handler) changePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !decode(w, r, &req) {
		return
	}
	res, _ := middleware.AuthResultFromContext(r.Context())
	if err := h.engine.ChangePassword(r.Context(), res.AccountID, req.OldPassword, req.NewPassword); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "password updated"})
}

func (h *handler) totpStatus(w http.ResponseWriter, r *http.Request) {
	res, _ := middleware.AuthResultFromContext(r.Context())
	state, err := h.engine.TOTPStatus(r.Context(), res.AccountID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]adminauth.TOTPState{"state": state})
}

func (h *handler) beginTOTPSetup(w http.ResponseWriter, r *http.Request) {
	res, _ := middleware.AuthResultFromContext(r.Context())
	setup, err := h.engine.BeginTOTPSetup(r.Context(), res.AccountID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, totpSetupResponse{
		Secret:          setup.SecretBase32,
		ProvisioningURI: setup.ProvisioningURI,
		QRCodePNG:       setup.QRCodePNG,
		ExpiresAt:       setup.ExpiresAt,
	})
}

func (h *handler) confirmTOTPSetup(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if !decode(w, r, &req) {
		return
	}
	res, _ := middleware.AuthResultFromContext(r.Context())
	if err := h.engine.ConfirmTOTPSetup(r.Context(), res.AccountID, req.Code); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "two-factor authentication enabled"})
}

func (h *handler) verifyTOTP(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if !decode(w, r, &req) {
		return
	}
	res, _ := middleware.AuthResultFromContext(r.Context())
	ok, err := h.engine.VerifyTOTP(r.Context(), res.AccountID, req.Code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": ok})
}

func (h *handler) disableTOTP(w http.ResponseWriter, r *http.Request) {
	var req disableTOTPRequest
	if !decode(w, r, &req) {
		return
	}
	res, _ := middleware.AuthResultFromContext(r.Context())
	proof := adminauth.TOTPDisableProof{Code: req.Code, Password: req.Password}
	if err := h.engine.DisableTOTP(r.Context(), res.AccountID, proof); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "two-factor authentication disabled"})
}

func (h *handler) requestEmailChange(w http.ResponseWriter, r *http.Request) {
	var req emailChangeRequest
	if !decode(w, r, &req) {
		return
	}
	res, _ := middleware.AuthResultFromContext(r.Context())
	if err := h.engine.RequestEmailChange(r.Context(), res.AccountID, req.NewEmail, req.TOTPCode); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, MessageEnvelope{Message: "verification code sent"})
}

func (h *handler) verifyEmailChange(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if !decode(w, r, &req) {
		return
	}
	res, _ := middleware.AuthResultFromContext(r.Context())
	if err := h.engine.VerifyEmailChangeOTP(r.Context(), res.AccountID, req.Code); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "email change verified"})
}

func (h *handler) commitEmailChange(w http.ResponseWriter, r *http.Request) {
	res, _ := middleware.AuthResultFromContext(r.Context())
	email, err := h.engine.CommitEmailChange(r.Context(), res.AccountID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"email": email})
}

func (h *handler) cancelEmailChange(w http.ResponseWriter, r *http.Request) {
	res, _ := middleware.AuthResultFromContext(r.Context())
	if err := h.engine.CancelEmailChange(r.Context(), res.AccountID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) emailChangeStatus(w http.ResponseWriter, r *http.Request) {
	res, _ := middleware.AuthResultFromContext(r.Context())
	status, err := h.engine.EmailChangeStatus(r.Context(), res.AccountID)
	if err != nil {
		writeError(w, err)
		return
	}
	out := emailStatusResponse{State: status.State, NewEmail: status.NewEmail, Attempts: status.Attempts}
	if !status.ExpiresAt.IsZero() {
		out.ExpiresAt = &status.ExpiresAt
	}
	writeJSON(w, http.StatusOK, out)
}
