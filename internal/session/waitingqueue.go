package session

import (
	"sort"
	"time"

	"telecare/internal/domain"
)

// WaitingQueue is the ordered admission queue of one consultation.
// It is not internally synchronized; the owning coordinator serializes access.
type WaitingQueue struct {
	entries            map[int64]*domain.WaitingRoomEntry
	avgConsultationMin int
	now                func() time.Time
}

// NewWaitingQueue creates an empty queue. avgConsultationMinutes feeds the
// display-only estimated wait heuristic.
func NewWaitingQueue(avgConsultationMinutes int) *WaitingQueue {
	return &WaitingQueue{
		entries:            make(map[int64]*domain.WaitingRoomEntry),
		avgConsultationMin: avgConsultationMinutes,
		now:                time.Now,
	}
}

// Enqueue adds a patient to the waiting room. Fails with ErrAlreadyQueued
// if the participant is already waiting.
func (q *WaitingQueue) Enqueue(participantID int64, name string) (*domain.WaitingRoomEntry, error) {
	if _, ok := q.entries[participantID]; ok {
		return nil, ErrAlreadyQueued
	}
	entry := &domain.WaitingRoomEntry{
		ParticipantID: participantID,
		Name:          name,
		EnteredAt:     q.now(),
	}
	q.entries[participantID] = entry
	return entry, nil
}

// EnqueueAt adds an entry with a known entry time, used when reconciling
// against the server's authoritative waiting list.
func (q *WaitingQueue) EnqueueAt(participantID int64, name string, enteredAt time.Time) (*domain.WaitingRoomEntry, error) {
	if _, ok := q.entries[participantID]; ok {
		return nil, ErrAlreadyQueued
	}
	entry := &domain.WaitingRoomEntry{
		ParticipantID: participantID,
		Name:          name,
		EnteredAt:     enteredAt,
	}
	q.entries[participantID] = entry
	return entry, nil
}

// DequeueAdmit removes a participant from the queue for admission.
// Fails with ErrNotQueued if the participant is not waiting.
func (q *WaitingQueue) DequeueAdmit(participantID int64) (*domain.WaitingRoomEntry, error) {
	entry, ok := q.entries[participantID]
	if !ok {
		return nil, ErrNotQueued
	}
	delete(q.entries, participantID)
	return entry, nil
}

// Remove drops a participant who left while still waiting
func (q *WaitingQueue) Remove(participantID int64) bool {
	if _, ok := q.entries[participantID]; !ok {
		return false
	}
	delete(q.entries, participantID)
	return true
}

// Contains reports whether the participant is currently waiting
func (q *WaitingQueue) Contains(participantID int64) bool {
	_, ok := q.entries[participantID]
	return ok
}

// Len returns the number of waiting participants
func (q *WaitingQueue) Len() int {
	return len(q.entries)
}

// Positions returns waiting participants ordered by EnteredAt ascending with
// 1-based ranks. Ties are broken by participant id ascending so the order is
// deterministic and stable.
func (q *WaitingQueue) Positions() []domain.WaitingRoomEntry {
	out := make([]domain.WaitingRoomEntry, 0, len(q.entries))
	for _, e := range q.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EnteredAt.Equal(out[j].EnteredAt) {
			return out[i].ParticipantID < out[j].ParticipantID
		}
		return out[i].EnteredAt.Before(out[j].EnteredAt)
	})
	for i := range out {
		out[i].QueuePosition = i + 1
		// Display heuristic only, not a correctness guarantee.
		out[i].EstimatedWaitMinutes = i * q.avgConsultationMin
	}
	return out
}

// Sync replaces the queue contents with the server's authoritative list
func (q *WaitingQueue) Sync(entries []domain.WaitingRoomEntry) {
	q.entries = make(map[int64]*domain.WaitingRoomEntry, len(entries))
	for i := range entries {
		e := entries[i]
		q.entries[e.ParticipantID] = &e
	}
}

// Reset empties the queue
func (q *WaitingQueue) Reset() {
	q.entries = make(map[int64]*domain.WaitingRoomEntry)
}

// Status summarizes the queue for the session snapshot
func (q *WaitingQueue) Status() domain.WaitingRoomStatus {
	return domain.WaitingRoomStatus{
		HasWaiting:   len(q.entries) > 0,
		WaitingCount: len(q.entries),
	}
}
