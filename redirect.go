package authflow

// RedirectPath maps st to a route:
//
//	unauthenticated, error          -> routes.Login
//	awaiting_agreement              -> routes.AgreementReview
//	ready                           -> routes.Dashboard
//	awaiting_profile needing setup  -> routes.Onboarding
//
// Every other state returns "" (stay where you are).
func RedirectPath(st AuthState, routes RoutesConfig) string {
	switch st.State {
	case StateUnauthenticated, StateError:
		return routes.Login
	case StateAwaitingAgreement:
		return routes.AgreementReview
	case StateReady:
		return routes.Dashboard
	case StateAwaitingProfile:
		if st.Profile.NeedsOnboarding() {
			return routes.Onboarding
		}
	}
	return ""
}
