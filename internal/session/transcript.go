package session

import "time"

// AppendTranscript adds one finalized utterance to the session transcript.
// Callers must only pass finalized fragments; partial updates are forwarded
// to the client live and never stored. Entries from the same role arrive in
// finalization order; across roles each entry carries its own timestamp and
// consumers sort on it when they need a strict interleaving.
func (r *Registry) AppendTranscript(sessionID, role, text string, at time.Time) error {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	e.sess.Transcript = append(e.sess.Transcript, TranscriptEntry{
		Role:      role,
		Text:      text,
		Timestamp: at,
	})
	return nil
}
