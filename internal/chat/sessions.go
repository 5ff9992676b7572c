package chat

import (
	"context"

	"ollama-chat/internal/history"
)

// List returns stored sessions, most recently updated first
func (o *Orchestrator) List(ctx context.Context, limit int) ([]history.SessionHeader, error) {
	return o.store.ListSessions(ctx, limit)
}

// Load switches to session id and returns its visible transcript. Loading
// the session already active is an error, like loading one that does not exist.
// The active session only changes when Load succeeds.
func (o *Orchestrator) Load(ctx context.Context, id history.SessionID) ([]history.Message, error) {
	msgs, err := o.store.LoadMessages(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := o.store.SetActive(ctx, &o.active, id); err != nil {
		return nil, err
	}
	o.log.WithField("session_id", id).Info("session loaded")

	return history.Visible(msgs), nil
}

// Delete removes the selected sessions, never the active one
func (o *Orchestrator) Delete(ctx context.Context, sel history.Selector) ([]history.SessionID, error) {
	ids, err := o.store.Delete(ctx, &o.active, sel)
	if err != nil {
		return nil, err
	}
	o.log.WithField("deleted", len(ids)).Info("sessions deleted")
	return ids, nil
}

// New drops the active session; the next utterance starts a fresh one
func (o *Orchestrator) New() {
	o.active.Clear()
}
