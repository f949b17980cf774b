package authflow

import (
	"context"
	"io"
	"log/slog"

	"github.com/MrEthical07/authflow/internal/audit"
)

// AuditEvent is one session lifecycle audit record.
type AuditEvent = audit.Event

// AuditSink receives audit events on the dispatcher goroutine.
type AuditSink = audit.Sink

// Audit event types.
const (
	AuditSignIn            = "sign_in"
	AuditSignUp            = "sign_up"
	AuditSignOut           = "sign_out"
	AuditPasswordReset     = "password_reset_requested"
	AuditForcedLogout      = "forced_logout"
	AuditSessionRestored   = "session_restored"
	AuditRefreshFailed     = "credential_refresh_failed"
	AuditAgreementAccepted = "agreement_accepted"
	AuditAgreementDeclined = "agreement_declined"
	AuditAgreementBypass   = "agreement_bypass"
)

// NoOpSink drops audit events.
type NoOpSink = audit.NoOpSink

// NewChannelSink returns a sink that buffers events on a channel.
func NewChannelSink(buffer int) *audit.ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONWriterSink returns a sink writing one JSON object per line to w.
func NewJSONWriterSink(w io.Writer) *audit.JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

// NewLogSink returns a sink writing events to logger.
func NewLogSink(logger *slog.Logger) *audit.LogSink {
	return audit.NewLogSink(logger)
}

func (c *Controller) emitAudit(ctx context.Context, event AuditEvent) {
	if c.audit == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = c.clock.Now()
	}
	c.audit.Emit(ctx, event)
}

func (c *Controller) auditSession(ctx context.Context, eventType string, gen uint64, sess sessionRef, err error, meta map[string]string) {
	e := AuditEvent{
		EventType:  eventType,
		UserID:     sess.userID,
		SessionID:  sess.id,
		Role:       sess.role,
		Generation: gen,
		Success:    err == nil,
		Metadata:   meta,
	}
	if err != nil {
		e.Error = err.Error()
	}
	c.emitAudit(ctx, e)
}

// AuditDropped returns the number of audit events dropped by the dispatcher.
func (c *Controller) AuditDropped() uint64 {
	if c == nil {
		return 0
	}
	return c.audit.Dropped()
}
