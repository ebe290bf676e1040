// Package audit keeps a local journal of vault events. Entries name what
// happened and to which key or company; they never hold secret values.
package audit

import (
	"context"
	"errors"
	"time"
)

// Actions recorded in the journal.
const (
	ActionPasswordSet     = "password_set"
	ActionPasswordChanged = "password_changed"
	ActionLoginSucceeded  = "login_succeeded"
	ActionLoginFailed     = "login_failed"
	ActionLogout          = "logout"
	ActionAPIKeySaved     = "api_key_saved"
	ActionAPIKeyRemoved   = "api_key_removed"
	ActionConfigSaved     = "config_saved"
	ActionModelTested     = "model_tested"
)

// ErrInvalidEvent is returned for an event without an action.
var ErrInvalidEvent = errors.New("invalid audit event")

// Event is one journal entry.
type Event struct {
	ID      string    `json:"id"`
	Time    time.Time `json:"time"`
	Action  string    `json:"action"`
	Subject string    `json:"subject,omitempty"`
	Detail  string    `json:"detail,omitempty"`
}

// Journal records and lists events.
type Journal interface {
	// Record appends an event. A missing ID or time is filled in.
	Record(ctx context.Context, event Event) error

	// List returns the newest events first. limit <= 0 returns all.
	List(ctx context.Context, limit int) ([]Event, error)

	// Close releases resources.
	Close() error
}

// NopJournal discards events. It is used when auditing is disabled.
type NopJournal struct{}

func (NopJournal) Record(context.Context, Event) error { return nil }

func (NopJournal) List(context.Context, int) ([]Event, error) { return nil, nil }

func (NopJournal) Close() error { return nil }
