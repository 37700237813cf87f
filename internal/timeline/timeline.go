// Package timeline keeps a client-side view of one chat consistent with the
// server. Messages are shown optimistically when sent and reconciled with the
// new_message broadcast that carries the server id, and with periodic
// history snapshots that heal missed broadcasts.
package timeline

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"social-events/internal/models"
)

// Entry is one row of the timeline. Pending entries have no server id yet.
type Entry struct {
	CorrelationID string
	Message       models.Message
	Pending       bool
	Failed        bool
}

type Timeline struct {
	mu      sync.Mutex
	chatID  int64
	entries []Entry
}

func New(chatID int64) *Timeline {
	return &Timeline{chatID: chatID}
}

func (t *Timeline) ChatID() int64 {
	return t.chatID
}

// AppendOptimistic shows a message before the server has stored it. The
// returned correlation id is sent as clientId with send_message.
func (t *Timeline) AppendOptimistic(senderID int64, body string, now time.Time) Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := Entry{
		CorrelationID: uuid.NewString(),
		Message: models.Message{
			ChatID:    t.chatID,
			SenderID:  senderID,
			Body:      body,
			CreatedAt: now,
		},
		Pending: true,
	}
	t.entries = append(t.entries, e)
	return e
}

// MarkFailed flags a pending entry after the gateway answered with an error.
func (t *Timeline) MarkFailed(correlationID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.entries {
		if t.entries[i].Pending && t.entries[i].CorrelationID == correlationID {
			t.entries[i].Failed = true
			return true
		}
	}
	return false
}

// ApplyNewMessage folds a new_message broadcast in. The pending entry is
// matched by correlation id; broadcasts without one fall back to the first
// unfailed pending entry with the same sender and body. Unmatched messages
// are appended. A broadcast for an id already shown only drops the pending
// entry it correlates with.
func (t *Timeline) ApplyNewMessage(msg models.Message, clientID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if msg.ChatID != t.chatID {
		return false
	}
	if existing := t.indexOfIDLocked(msg.ID); existing >= 0 {
		if clientID == "" {
			return false
		}
		i := t.indexOfPendingLocked(clientID)
		if i < 0 {
			return false
		}
		if t.entries[existing].CorrelationID == "" {
			t.entries[existing].CorrelationID = clientID
		}
		t.entries = append(t.entries[:i], t.entries[i+1:]...)
		return true
	}

	idx := -1
	if clientID != "" {
		idx = t.indexOfPendingLocked(clientID)
	} else {
		for i, e := range t.entries {
			if e.Pending && !e.Failed && e.Message.SenderID == msg.SenderID && e.Message.Body == msg.Body {
				idx = i
				break
			}
		}
	}

	if idx < 0 {
		t.entries = append(t.entries, Entry{CorrelationID: clientID, Message: msg})
		return true
	}
	t.entries[idx] = Entry{CorrelationID: t.entries[idx].CorrelationID, Message: msg}
	return true
}

func (t *Timeline) ApplyEdited(evt models.MessageEditedEvent) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if evt.ChatID != t.chatID {
		return false
	}
	i := t.indexOfIDLocked(evt.MessageID)
	if i < 0 {
		return false
	}
	t.entries[i].Message.Body = evt.NewBody
	t.entries[i].Message.IsEdited = true
	return true
}

func (t *Timeline) ApplyDeleted(evt models.MessageDeletedEvent) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if evt.ChatID != t.chatID {
		return false
	}
	i := t.indexOfIDLocked(evt.MessageID)
	if i < 0 {
		return false
	}
	t.entries = append(t.entries[:i], t.entries[i+1:]...)
	return true
}

// MergeSnapshot replaces every acknowledged entry with the server's list.
// Acknowledged entries missing from msgs were deleted and are dropped.
// Each unfailed pending entry claims the first server message with the same
// sender and body that was not already shown; server timestamps never equal
// local ones. Claimed messages keep the pending entry's correlation id so a
// late broadcast is recognised. The result is ordered by createdAt.
func (t *Timeline) MergeSnapshot(msgs []models.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	correlations := make(map[int64]string)
	for _, e := range t.entries {
		if !e.Pending {
			correlations[e.Message.ID] = e.CorrelationID
		}
	}

	merged := make([]Entry, 0, len(msgs)+len(t.entries))
	for _, m := range msgs {
		if m.ChatID != t.chatID {
			continue
		}
		merged = append(merged, Entry{CorrelationID: correlations[m.ID], Message: m})
	}

	claimed := make(map[int]bool)
	var pending []Entry
	for _, e := range t.entries {
		if !e.Pending {
			continue
		}
		if !e.Failed {
			if i := claimCandidate(merged, claimed, correlations, e.Message); i >= 0 {
				claimed[i] = true
				merged[i].CorrelationID = e.CorrelationID
				continue
			}
		}
		pending = append(pending, e)
	}
	merged = append(merged, pending...)

	sort.SliceStable(merged, func(i, j int) bool {
		a, b := merged[i].Message, merged[j].Message
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if merged[i].Pending != merged[j].Pending {
			return !merged[i].Pending
		}
		return a.ID < b.ID
	})
	t.entries = merged
}

func claimCandidate(merged []Entry, claimed map[int]bool, known map[int64]string, local models.Message) int {
	for i, e := range merged {
		if claimed[i] {
			continue
		}
		if _, ok := known[e.Message.ID]; ok {
			continue
		}
		if e.Message.SenderID == local.SenderID && e.Message.Body == local.Body {
			return i
		}
	}
	return -1
}

// Entries returns a copy of the timeline in display order.
func (t *Timeline) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Entry(nil), t.entries...)
}

func (t *Timeline) indexOfPendingLocked(correlationID string) int {
	for i, e := range t.entries {
		if e.Pending && !e.Failed && e.CorrelationID == correlationID {
			return i
		}
	}
	return -1
}

func (t *Timeline) indexOfIDLocked(id int64) int {
	if id == 0 {
		return -1
	}
	for i, e := range t.entries {
		if !e.Pending && e.Message.ID == id {
			return i
		}
	}
	return -1
}
