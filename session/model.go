package session

import "time"

// Session is the profile projection of one authenticated browser context.
// It intentionally has no credential field; see [Store.AccessToken].
type Session struct {
	ID          string
	UserID      string
	Email       string
	Role        string
	DisplayName string

	IssuedAt     time.Time
	ExpiresAt    time.Time
	LastActiveAt time.Time

	AgreementAccepted bool

	// Provisional is set when the session was rebuilt from durable metadata
	// and no credential has been attached yet.
	Provisional bool
}

// Patch carries a partial session update. Nil fields are left unchanged.
type Patch struct {
	Email             *string
	Role              *string
	DisplayName       *string
	IssuedAt          *time.Time
	ExpiresAt         *time.Time
	AgreementAccepted *bool
}

// Record is the durable half of a session.
type Record struct {
	UserID            string
	Role              string
	AgreementAccepted bool
	IssuedAt          int64
	TokenExpiry       int64
	LastActiveAt      int64
}

func recordFromSession(s *Session) *Record {
	return &Record{
		UserID:            s.UserID,
		Role:              s.Role,
		AgreementAccepted: s.AgreementAccepted,
		IssuedAt:          unixMilli(s.IssuedAt),
		TokenExpiry:       unixMilli(s.ExpiresAt),
		LastActiveAt:      unixMilli(s.LastActiveAt),
	}
}

func (r *Record) session() *Session {
	return &Session{
		UserID:            r.UserID,
		Role:              r.Role,
		AgreementAccepted: r.AgreementAccepted,
		IssuedAt:          fromUnixMilli(r.IssuedAt),
		ExpiresAt:         fromUnixMilli(r.TokenExpiry),
		LastActiveAt:      fromUnixMilli(r.LastActiveAt),
		Provisional:       true,
	}
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
