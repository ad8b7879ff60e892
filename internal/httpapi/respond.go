package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MrEthical07/adminauth"
	"github.com/MrEthical07/adminauth/middleware"
	"github.com/go-playground/validator/v10"
)

// ErrorEnvelope is the body of every error response.
type ErrorEnvelope struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// MessageEnvelope is the body of responses that carry no data.
type MessageEnvelope struct {
	Message string `json:"message"`
}

var validate = validator.New()

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps an engine error to its HTTP status via its Kind.
func statusFor(err error) int {
	if errors.Is(err, adminauth.ErrBackendUnavailable) {
		return http.StatusServiceUnavailable
	}
	switch adminauth.KindOf(err) {
	case adminauth.KindInvalidToken, adminauth.KindInvalidCode:
		return http.StatusBadRequest
	case adminauth.KindWeakPassword, adminauth.KindInvalidInput:
		return http.StatusUnprocessableEntity
	case adminauth.KindUnauthorized, adminauth.KindUnauthenticated:
		return http.StatusUnauthorized
	case adminauth.KindCSRFRejected:
		return http.StatusForbidden
	case adminauth.KindConflict, adminauth.KindNotVerified:
		return http.StatusConflict
	case adminauth.KindTooManyAttempts:
		return http.StatusTooManyRequests
	case adminauth.KindDeliveryFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// errorCode is the machine-readable error label. TOTP-required logins get
// their own code so the client can prompt for a code.
func errorCode(err error) string {
	if errors.Is(err, adminauth.ErrTOTPRequired) {
		return "totp_required"
	}
	return string(adminauth.KindOf(err))
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	env := ErrorEnvelope{Error: errorCode(err)}
	switch {
	case status >= http.StatusInternalServerError && status != http.StatusBadGateway:
	case errors.Is(err, adminauth.ErrWeakPassword), errors.Is(err, adminauth.ErrInvalidEmail):
		env.Message = err.Error()
	}
	writeJSON(w, status, env)
}

// rejectJSON answers requests refused by the middleware package with the
// same envelope as handler errors.
func rejectJSON(w http.ResponseWriter, _ *http.Request, err error) {
	if errors.Is(err, middleware.ErrForbidden) {
		writeJSON(w, http.StatusForbidden, ErrorEnvelope{Error: "forbidden"})
		return
	}
	writeError(w, err)
}

// decode reads a JSON body into dst and runs its validate tags.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorEnvelope{Error: string(adminauth.KindInvalidInput), Message: "invalid request body"})
		return false
	}
	if err := validate.Struct(dst); err != nil {
		var ve validator.ValidationErrors
		msg := "invalid request"
		if errors.As(err, &ve) && len(ve) > 0 {
			msg = "field '" + ve[0].Field() + "' failed '" + ve[0].Tag() + "'"
		}
		writeJSON(w, http.StatusUnprocessableEntity, ErrorEnvelope{Error: string(adminauth.KindInvalidInput), Message: msg})
		return false
	}
	return true
}
