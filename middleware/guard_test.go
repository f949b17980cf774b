package middleware_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrEthical07/authflow"
	"github.com/MrEthical07/authflow/fake"
	"github.com/MrEthical07/authflow/middleware"
)

func newController(t *testing.T) (*authflow.Controller, *fake.Agreements) {
	t.Helper()
	agreements := fake.NewAgreements()
	agreements.SetDocument("player", 1, true)
	agreements.Accepted("u1", "player", 1)

	ctrl, err := authflow.New().
		WithIdentityProvider(fake.NewIdentity(fake.WithAccount("u1", "ana@team.gg", "pw"))).
		WithProfileService(fake.NewProfiles(authflow.Profile{UserID: "u1", Email: "ana@team.gg", Role: "player", OnboardingComplete: true})).
		WithAgreementService(agreements).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(ctrl.Close)
	return ctrl, agreements
}

func okHandler(t *testing.T, want authflow.State) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st, ok := middleware.StateFromContext(r.Context())
		if !ok || st.State != want {
			t.Errorf("state in context: %v %v", ok, st.State)
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func serve(h http.Handler, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGuardFollowsState(t *testing.T) {
	ctrl, _ := newController(t)
	dashboard := middleware.RequireReady(ctrl)(okHandler(t, authflow.StateReady))

	if rec := serve(dashboard, "/dashboard", nil); rec.Code != http.StatusServiceUnavailable || rec.Header().Get("Retry-After") == "" {
		t.Fatalf("initializing: got %d", rec.Code)
	}

	if err := ctrl.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	rec := serve(dashboard, "/dashboard", nil)
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/login" {
		t.Fatalf("signed out: got %d %q", rec.Code, rec.Header().Get("Location"))
	}

	rec = serve(dashboard, "/dashboard", map[string]string{"HX-Request": "true"})
	if rec.Code != http.StatusOK || rec.Header().Get("HX-Redirect") != "/login" {
		t.Fatalf("htmx: got %d %q", rec.Code, rec.Header().Get("HX-Redirect"))
	}

	if res := ctrl.SignIn(context.Background(), "ana@team.gg", "pw"); !res.Success {
		t.Fatalf("sign in: %v", res.Err)
	}
	if rec := serve(dashboard, "/dashboard", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("ready: got %d", rec.Code)
	}
}

func TestGuardAgreementReview(t *testing.T) {
	ctrl, agreements := newController(t)
	agreements.SetDocument("player", 2, true)
	if err := ctrl.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	ctrl.SignIn(context.Background(), "ana@team.gg", "pw")

	dashboard := middleware.RequireReady(ctrl)(okHandler(t, authflow.StateAwaitingAgreement))
	rec := serve(dashboard, "/dashboard", nil)
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/agreement-review" {
		t.Fatalf("got %d %q", rec.Code, rec.Header().Get("Location"))
	}

	review := middleware.RequireSignedIn(ctrl)(okHandler(t, authflow.StateAwaitingAgreement))
	if rec := serve(review, "/agreement-review", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("review page: got %d", rec.Code)
	}
}

func TestGuardNoRedirectLoop(t *testing.T) {
	ctrl, _ := newController(t)
	if err := ctrl.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	h := middleware.RequireReady(ctrl)(okHandler(t, authflow.StateReady))
	if rec := serve(h, "/login", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("got %d", rec.Code)
	}
}

func TestGuardNilController(t *testing.T) {
	h := middleware.RequireReady(nil)(nil)
	if rec := serve(h, "/dashboard", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("got %d", rec.Code)
	}
}

type captureTransport struct {
	auth string
}

func (c *captureTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	c.auth = req.Header.Get("Authorization")
	return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody, Request: req}, nil
}

func TestBearerTransport(t *testing.T) {
	ctrl, _ := newController(t)
	if err := ctrl.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	base := &captureTransport{}
	client := &http.Client{Transport: &middleware.BearerTransport{Controller: ctrl, Base: base}}

	_, err := client.Get("http://api.local/roster")
	if !errors.Is(err, authflow.ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}

	ctrl.SignIn(context.Background(), "ana@team.gg", "pw")
	resp, err := client.Get("http://api.local/roster")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if base.auth != "Bearer "+ctrl.Token() {
		t.Fatalf("authorization header: %q", base.auth)
	}

	req, _ := http.NewRequest(http.MethodGet, "http://api.local/roster", nil)
	req.Header.Set("Authorization", "Bearer service-token")
	resp, err = client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if base.auth != "Bearer service-token" {
		t.Fatalf("existing credential replaced: %q", base.auth)
	}
}

func TestTrackActivityPassesThrough(t *testing.T) {
	ctrl, _ := newController(t)
	h := middleware.TrackActivity(ctrl)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	if rec := serve(h, "/anything", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("got %d", rec.Code)
	}
}
