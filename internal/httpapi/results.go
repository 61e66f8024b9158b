package httpapi

import (
	"encoding/json"

	"meetingd/internal/store"
)

// The agents wrap their payloads in a content list of text blocks, with the
// actual data JSON-encoded inside the text. These helpers unwrap that shape
// tolerantly; anything unrecognized degrades to the raw text.

type textBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// payloadText extracts the inner text payload from a tool result.
func payloadText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var blocks []textBlock
	if err := json.Unmarshal(raw, &blocks); err == nil && len(blocks) > 0 {
		return blocks[0].Text
	}

	var wrapped struct {
		Content []textBlock `json:"content"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && len(wrapped.Content) > 0 {
		return wrapped.Content[0].Text
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	return string(raw)
}

// textFromResult returns the transcribed text from a transcriber result:
// either the "text" field of the inner payload, or the payload itself when
// it is not an object.
func textFromResult(raw json.RawMessage) string {
	payload := payloadText(raw)
	if payload == "" {
		return ""
	}

	var obj struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(payload), &obj); err == nil && obj.Text != "" {
		return obj.Text
	}
	return payload
}

// meetingsFromResult extracts detected meetings from a scheduler analysis
// result.
func meetingsFromResult(raw json.RawMessage) []*store.Meeting {
	payload := payloadText(raw)
	if payload == "" {
		return nil
	}

	var obj struct {
		Meetings []struct {
			OriginalText string `json:"original_text"`
			DateTime     string `json:"datetime"`
			Context      string `json:"context"`
			Confidence   int    `json:"confidence"`
		} `json:"meetings"`
	}
	if err := json.Unmarshal([]byte(payload), &obj); err != nil {
		return nil
	}

	meetings := make([]*store.Meeting, 0, len(obj.Meetings))
	for _, m := range obj.Meetings {
		meetings = append(meetings, &store.Meeting{
			OriginalText: m.OriginalText,
			DateTime:     m.DateTime,
			Context:      m.Context,
			Confidence:   m.Confidence,
		})
	}
	return meetings
}

// calendarEventFromResult extracts calendar event details from a scheduling
// result, or nil when the payload carries none.
func calendarEventFromResult(raw json.RawMessage) *store.CalendarEvent {
	payload := payloadText(raw)
	if payload == "" {
		return nil
	}

	var obj struct {
		EventID   string `json:"event_id"`
		EventLink string `json:"event_link"`
		Title     string `json:"title"`
		DateTime  string `json:"datetime"`
		Events    []struct {
			EventID   string `json:"event_id"`
			EventLink string `json:"event_link"`
			Title     string `json:"title"`
			DateTime  string `json:"datetime"`
		} `json:"events"`
	}
	if err := json.Unmarshal([]byte(payload), &obj); err != nil {
		return nil
	}

	if obj.EventID == "" && len(obj.Events) > 0 {
		e := obj.Events[0]
		obj.EventID, obj.EventLink, obj.Title, obj.DateTime = e.EventID, e.EventLink, e.Title, e.DateTime
	}
	if obj.EventID == "" {
		return nil
	}

	event := &store.CalendarEvent{
		EventID:   obj.EventID,
		EventLink: obj.EventLink,
		Title:     obj.Title,
		DateTime:  obj.DateTime,
	}
	if event.Title == "" {
		event.Title = "Meeting from Transcription"
	}
	return event
}
