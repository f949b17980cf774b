package middleware

import (
	"context"
	"net/http"
	"slices"

	"github.com/MrEthical07/authflow"
)

const htmxHeader = "HX-Request"
const htmxRedirectHeader = "HX-Redirect"

type stateContextKey struct{}

// StateFromContext returns the state observed by the guard that admitted
// the request.
func StateFromContext(ctx context.Context) (authflow.AuthState, bool) {
	st, ok := ctx.Value(stateContextKey{}).(authflow.AuthState)
	return st, ok
}

// Guard admits requests while ctrl is in one of the allowed states. Other
// requests are redirected to the route for the current state. While the
// controller is still settling the response is 503 with Retry-After; when
// no redirect applies it is 401.
func Guard(ctrl *authflow.Controller, allowed ...authflow.State) func(http.Handler) http.Handler {
	var routes authflow.RoutesConfig
	if ctrl != nil {
		routes = ctrl.Config().Routes
	}
	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.NotFoundHandler()
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ctrl == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			st := ctrl.State()
			if slices.Contains(allowed, st.State) {
				ctx := context.WithValue(r.Context(), stateContextKey{}, st)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			if !st.State.Settled() {
				w.Header().Set("Retry-After", "1")
				http.Error(w, "session initializing", http.StatusServiceUnavailable)
				return
			}
			target := authflow.RedirectPath(st, routes)
			if target == "" || target == r.URL.Path {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			writeRedirect(w, r, target)
		})
	}
}

// RequireReady admits only fully signed-in users past every gate.
func RequireReady(ctrl *authflow.Controller) func(http.Handler) http.Handler {
	return Guard(ctrl, authflow.StateReady)
}

// RequireSignedIn admits any state holding a credential, including
// onboarding and agreement review.
func RequireSignedIn(ctrl *authflow.Controller) func(http.Handler) http.Handler {
	return Guard(ctrl, authflow.StateAwaitingProfile, authflow.StateAwaitingAgreement, authflow.StateReady)
}

// TrackActivity reports every request to the inactivity watchdog.
func TrackActivity(ctrl *authflow.Controller) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.NotFoundHandler()
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ctrl != nil {
				ctrl.RecordActivity()
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeRedirect(w http.ResponseWriter, r *http.Request, location string) {
	if r.Header.Get(htmxHeader) == "true" {
		w.Header().Set(htmxRedirectHeader, location)
		w.WriteHeader(http.StatusOK)
		return
	}
	http.Redirect(w, r, location, http.StatusFound)
}
