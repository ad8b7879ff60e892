package middleware

import (
	"net/http"

	"github.com/MrEthical07/adminauth"
)

// CSRF rejects unsafe requests that fail the double-submit check before
// the handler runs. onReject writes the response; nil means a plain 403.
func CSRF(engine *adminauth.Engine, onReject RejectFunc) func(http.Handler) http.Handler {
	if onReject == nil {
		onReject = func(w http.ResponseWriter, _ *http.Request, _ error) {
			http.Error(w, "forbidden", http.StatusForbidden)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := engine.VerifyCSRF(r); err != nil {
				onReject(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
