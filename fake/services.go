package fake

import (
	"context"
	"sync"

	"github.com/MrEthical07/authflow"
	"github.com/MrEthical07/authflow/agreement"
)

// Profiles is an in-memory [authflow.ProfileService].
type Profiles struct {
	Hooks

	mu       sync.Mutex
	profiles map[string]authflow.Profile
}

// NewProfiles creates a profile service holding ps.
func NewProfiles(ps ...authflow.Profile) *Profiles {
	s := &Profiles{profiles: map[string]authflow.Profile{}}
	s.Hooks.init()
	for _, p := range ps {
		s.profiles[p.UserID] = p
	}
	return s
}

// Put adds or replaces a profile.
func (s *Profiles) Put(p authflow.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.UserID] = p
}

// Delete removes a profile.
func (s *Profiles) Delete(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.profiles, userID)
}

func (s *Profiles) FetchProfile(ctx context.Context, userID string) (*authflow.Profile, error) {
	if err := s.enter(ctx, OpFetchProfile); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, authflow.ErrProfileNotFound
	}
	return &p, nil
}

// Decision is one recorded agreement decision.
type Decision struct {
	UserID   string
	Role     string
	Version  int
	Decision agreement.Decision
}

type document struct {
	version  int
	required bool
}

// Agreements is an in-memory [authflow.AgreementService].
type Agreements struct {
	Hooks

	mu        sync.Mutex
	documents map[string]document
	accepted  map[string]int
	declined  map[string]int
	decisions []Decision
}

// NewAgreements creates an agreement service with no documents.
func NewAgreements() *Agreements {
	s := &Agreements{
		documents: map[string]document{},
		accepted:  map[string]int{},
		declined:  map[string]int{},
	}
	s.Hooks.init()
	return s
}

// SetDocument publishes version of the agreement for role.
func (s *Agreements) SetDocument(role string, version int, required bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents[role] = document{version: version, required: required}
}

// Accepted marks version as already accepted by userID for role.
func (s *Agreements) Accepted(userID, role string, version int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accepted[key(userID, role)] = version
}

// Decisions returns the decisions recorded through RecordAcceptance.
func (s *Agreements) Decisions() []Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Decision(nil), s.decisions...)
}

func (s *Agreements) FetchAgreementStatus(ctx context.Context, role, userID string) (agreement.Record, error) {
	if err := s.enter(ctx, OpFetchAgreement); err != nil {
		return agreement.Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[role]
	if !ok {
		return agreement.Record{}, authflow.ErrAgreementNotFound
	}
	rec := agreement.Record{
		Role:            role,
		Required:        doc.required,
		RequiredVersion: doc.version,
	}
	k := key(userID, role)
	if v, ok := s.accepted[k]; ok {
		rec.AcceptedVersion = &v
	}
	if v, ok := s.declined[k]; ok && v == doc.version {
		rec.Declined = true
	}
	return rec, nil
}

func (s *Agreements) RecordAcceptance(ctx context.Context, userID, role string, version int, d agreement.Decision) error {
	if err := s.enter(ctx, OpRecordAgreement); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(userID, role)
	switch d {
	case agreement.DecisionAccepted:
		s.accepted[k] = version
		delete(s.declined, k)
	case agreement.DecisionDeclined:
		s.declined[k] = version
	default:
		return agreement.ErrInvalidDecision
	}
	s.decisions = append(s.decisions, Decision{UserID: userID, Role: role, Version: version, Decision: d})
	return nil
}

func key(userID, role string) string {
	return userID + "/" + role
}

var (
	_ authflow.ProfileService   = (*Profiles)(nil)
	_ authflow.AgreementService = (*Agreements)(nil)
)
