package store

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranscriptionLifecycle(t *testing.T) {
	s := New()

	created := s.CreateTranscription("standup.wav")
	require.NotEmpty(t, created.ID)
	assert.Equal(t, "standup.wav", created.Filename)
	assert.Equal(t, StatusProcessing, created.Status)
	assert.False(t, created.UploadedAt.IsZero())
	assert.NotNil(t, created.Meetings)

	require.NoError(t, s.CompleteTranscription(created.ID, "we should meet tomorrow"))

	got := s.GetTranscription(created.ID)
	require.NotNil(t, got)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, "we should meet tomorrow", got.Text)
	require.NotNil(t, got.CompletedAt)
}

func TestFailTranscription(t *testing.T) {
	s := New()
	tr := s.CreateTranscription("broken.wav")

	require.NoError(t, s.FailTranscription(tr.ID, "unsupported codec"))

	got := s.GetTranscription(tr.ID)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "unsupported codec", got.Error)
}

func TestUnknownIDs(t *testing.T) {
	s := New()
	assert.Nil(t, s.GetTranscription("nope"))
	assert.Nil(t, s.GetMeeting("nope"))
	assert.Error(t, s.CompleteTranscription("nope", "text"))
	assert.Error(t, s.FailTranscription("nope", "reason"))
	assert.Error(t, s.AddMeetings("nope", nil))
	assert.Error(t, s.MarkScheduled("nope", nil))
}

func TestListTranscriptionsPreservesUploadOrder(t *testing.T) {
	s := New()
	first := s.CreateTranscription("a.wav")
	second := s.CreateTranscription("b.wav")
	third := s.CreateTranscription("c.wav")

	list := s.ListTranscriptions()
	require.Len(t, list, 3)
	assert.Equal(t, []string{first.ID, second.ID, third.ID},
		[]string{list[0].ID, list[1].ID, list[2].ID})
}

func TestAddMeetingsAssignsIDsAndMarksAnalyzed(t *testing.T) {
	s := New()
	tr := s.CreateTranscription("planning.wav")

	meetings := []*Meeting{
		{OriginalText: "meet tomorrow at 2pm", DateTime: "2026-08-26T14:00:00", Confidence: 95},
		{OriginalText: "sync on friday", DateTime: "2026-08-28T10:00:00", Confidence: 80},
	}
	require.NoError(t, s.AddMeetings(tr.ID, meetings))

	got := s.GetTranscription(tr.ID)
	assert.True(t, got.MeetingsAnalyzed)
	require.Len(t, got.Meetings, 2)
	for _, m := range got.Meetings {
		assert.NotEmpty(t, m.ID)
		assert.Equal(t, tr.ID, m.TranscriptionID)
	}

	all := s.ListMeetings()
	require.Len(t, all, 2)
	assert.Equal(t, "meet tomorrow at 2pm", all[0].OriginalText)
}

func TestSchedulingFlow(t *testing.T) {
	s := New()
	tr := s.CreateTranscription("planning.wav")
	require.NoError(t, s.AddMeetings(tr.ID, []*Meeting{
		{OriginalText: "one"},
		{OriginalText: "two"},
	}))

	ids := s.UnscheduledMeetingIDs()
	require.Len(t, ids, 2)

	event := &CalendarEvent{EventID: "cal_1", Title: "Meeting from Transcription"}
	require.NoError(t, s.MarkScheduled(ids[0], event))

	assert.Len(t, s.UnscheduledMeetingIDs(), 1)

	m := s.GetMeeting(ids[0])
	require.NotNil(t, m)
	assert.True(t, m.Scheduled)
	require.NotNil(t, m.CalendarEvent)
	assert.Equal(t, "cal_1", m.CalendarEvent.EventID)
}

func TestReadsReturnCopies(t *testing.T) {
	s := New()
	tr := s.CreateTranscription("a.wav")
	require.NoError(t, s.AddMeetings(tr.ID, []*Meeting{{OriginalText: "original"}}))

	got := s.GetTranscription(tr.ID)
	got.Status = "mutated"
	got.Meetings[0].OriginalText = "mutated"

	fresh := s.GetTranscription(tr.ID)
	assert.Equal(t, StatusProcessing, fresh.Status)
	assert.Equal(t, "original", fresh.Meetings[0].OriginalText)
}

func TestConcurrentAccess(t *testing.T) {
	s := New()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				tr := s.CreateTranscription("f.wav")
				_ = s.CompleteTranscription(tr.ID, "text")
				_ = s.AddMeetings(tr.ID, []*Meeting{{OriginalText: "m"}})
				s.ListTranscriptions()
				s.ListMeetings()
				s.UnscheduledMeetingIDs()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, s.ListTranscriptions(), 160)
	assert.Len(t, s.ListMeetings(), 160)
}
