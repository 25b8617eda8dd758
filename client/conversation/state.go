package conversation

import (
	"time"

	"dmchat/models"
)

// State is the reconciliation bookkeeping of one subscription lifetime
type State struct {
	initial   bool
	watermark time.Time
}

// NewState starts a subscription lifetime at start. The next snapshot is
// treated as the initial load.
func NewState(start time.Time) *State {
	return &State{initial: true, watermark: start}
}

// Initial reports whether no snapshot has been reconciled yet
func (s *State) Initial() bool { return s.initial }

// Watermark is the newest notified timestamp, or the start time
func (s *State) Watermark() time.Time { return s.watermark }

// Reconcile classifies a full snapshot of the local/remote conversation.
//
// notify holds the messages that arrived from remote after the watermark;
// it is always empty for the initial load. unread holds the ids of every
// message from remote that local has not read yet.
func (s *State) Reconcile(snapshot []models.Message, local, remote string) (notify []models.Message, unread []string) {
	initial := s.initial
	s.initial = false

	newest := s.watermark
	for _, m := range snapshot {
		if m.ReceiverID != local || m.SenderID != remote {
			continue
		}
		if !m.Read {
			unread = append(unread, m.ID)
		}
		if initial || m.Deleted || m.Timestamp.IsZero() {
			continue
		}
		if m.Timestamp.After(s.watermark) {
			notify = append(notify, m)
			if m.Timestamp.After(newest) {
				newest = m.Timestamp
			}
		}
	}

	s.watermark = newest
	return notify, unread
}
