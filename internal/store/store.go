// Package store holds the in-memory transcription and meeting collections.
// State is owned by the application and passed to the HTTP layer explicitly;
// nothing here persists across restarts.
package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Transcription statuses.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Transcription is one uploaded audio file and its lifecycle.
type Transcription struct {
	ID               string     `json:"id"`
	Filename         string     `json:"filename"`
	UploadedAt       time.Time  `json:"uploaded_at"`
	Status           string     `json:"status"`
	Text             string     `json:"text,omitempty"`
	Error            string     `json:"error,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	Meetings         []*Meeting `json:"meetings"`
	MeetingsAnalyzed bool       `json:"meetings_analyzed"`
}

// Meeting is one commitment detected in a transcription.
type Meeting struct {
	ID              string         `json:"id"`
	TranscriptionID string         `json:"transcription_id"`
	OriginalText    string         `json:"original_text"`
	DateTime        string         `json:"datetime"`
	Context         string         `json:"context,omitempty"`
	Confidence      int            `json:"confidence"`
	Scheduled       bool           `json:"scheduled"`
	CalendarEvent   *CalendarEvent `json:"calendar_event,omitempty"`
}

// CalendarEvent records a successful scheduling.
type CalendarEvent struct {
	EventID   string `json:"event_id"`
	EventLink string `json:"event_link,omitempty"`
	Title     string `json:"title"`
	DateTime  string `json:"datetime"`
}

// Store is a concurrency-safe collection of transcriptions and meetings.
type Store struct {
	mu             sync.RWMutex
	transcriptions map[string]*Transcription
	transcOrder    []string
	meetings       map[string]*Meeting
	meetingOrder   []string
}

// New creates an empty store.
func New() *Store {
	return &Store{
		transcriptions: make(map[string]*Transcription),
		meetings:       make(map[string]*Meeting),
	}
}

// CreateTranscription records a new upload in the processing state and
// returns its id. Ids are ULIDs so listings come back in upload order even
// after restarts of nothing but the listing code.
func (s *Store) CreateTranscription(filename string) *Transcription {
	t := &Transcription{
		ID:         ulid.Make().String(),
		Filename:   filename,
		UploadedAt: time.Now(),
		Status:     StatusProcessing,
		Meetings:   []*Meeting{},
	}

	s.mu.Lock()
	s.transcriptions[t.ID] = t
	s.transcOrder = append(s.transcOrder, t.ID)
	s.mu.Unlock()
	return s.cloneTranscription(t.ID)
}

// GetTranscription returns a copy of the record, or nil if unknown.
func (s *Store) GetTranscription(id string) *Transcription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cloneTranscriptionLocked(id)
}

// ListTranscriptions returns copies of all records in upload order.
func (s *Store) ListTranscriptions() []*Transcription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Transcription, 0, len(s.transcOrder))
	for _, id := range s.transcOrder {
		out = append(out, s.cloneTranscriptionLocked(id))
	}
	return out
}

// CompleteTranscription stores the transcribed text and marks completion.
func (s *Store) CompleteTranscription(id, text string) error {
	return s.updateTranscription(id, func(t *Transcription) {
		now := time.Now()
		t.Text = text
		t.Status = StatusCompleted
		t.CompletedAt = &now
	})
}

// FailTranscription marks the record failed with a reason.
func (s *Store) FailTranscription(id, reason string) error {
	return s.updateTranscription(id, func(t *Transcription) {
		t.Status = StatusFailed
		t.Error = reason
	})
}

// AddMeetings attaches detected meetings to a transcription and indexes
// them. Meeting ids are assigned here.
func (s *Store) AddMeetings(transcriptionID string, meetings []*Meeting) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.transcriptions[transcriptionID]
	if !ok {
		return fmt.Errorf("transcription not found: %s", transcriptionID)
	}

	for _, m := range meetings {
		m.ID = uuid.NewString()
		m.TranscriptionID = transcriptionID
		s.meetings[m.ID] = m
		s.meetingOrder = append(s.meetingOrder, m.ID)
		t.Meetings = append(t.Meetings, m)
	}
	t.MeetingsAnalyzed = true
	return nil
}

// GetMeeting returns a copy of the meeting, or nil if unknown.
func (s *Store) GetMeeting(id string) *Meeting {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.meetings[id]
	if !ok {
		return nil
	}
	cp := *m
	return &cp
}

// ListMeetings returns copies of all detected meetings in detection order.
func (s *Store) ListMeetings() []*Meeting {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Meeting, 0, len(s.meetingOrder))
	for _, id := range s.meetingOrder {
		cp := *s.meetings[id]
		out = append(out, &cp)
	}
	return out
}

// UnscheduledMeetingIDs returns ids of meetings not yet scheduled.
func (s *Store) UnscheduledMeetingIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for _, id := range s.meetingOrder {
		if !s.meetings[id].Scheduled {
			ids = append(ids, id)
		}
	}
	return ids
}

// MarkScheduled records a calendar event against a meeting.
func (s *Store) MarkScheduled(id string, event *CalendarEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meetings[id]
	if !ok {
		return fmt.Errorf("meeting not found: %s", id)
	}
	m.Scheduled = true
	m.CalendarEvent = event
	return nil
}

func (s *Store) updateTranscription(id string, fn func(*Transcription)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transcriptions[id]
	if !ok {
		return fmt.Errorf("transcription not found: %s", id)
	}
	fn(t)
	return nil
}

func (s *Store) cloneTranscription(id string) *Transcription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cloneTranscriptionLocked(id)
}

func (s *Store) cloneTranscriptionLocked(id string) *Transcription {
	t, ok := s.transcriptions[id]
	if !ok {
		return nil
	}
	cp := *t
	cp.Meetings = make([]*Meeting, len(t.Meetings))
	for i, m := range t.Meetings {
		mc := *m
		cp.Meetings[i] = &mc
	}
	return &cp
}
