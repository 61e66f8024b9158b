package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"meetingd/internal/store"
)

const maxUploadBytes = 50 << 20 // 50 MB

// Agent and tool names the handlers dispatch to.
const (
	transcriberAgent = "transcriber"
	schedulerAgent   = "scheduler"

	toolTranscribe = "transcribe_audio_file"
	toolAnalyze    = "analyze_transcription_for_meetings"
	toolSchedule   = "schedule_detected_meetings"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
		"servers":   s.controller.StatusAll(),
	})
}

func (s *Server) handleStartServers(w http.ResponseWriter, r *http.Request) {
	results := s.controller.StartAll()

	success := true
	resultsByName := make(map[string]any, len(results))
	for name, err := range results {
		if err != nil {
			success = false
			resultsByName[name] = map[string]any{"started": false, "error": err.Error()}
		} else {
			resultsByName[name] = map[string]any{"started": true}
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": success,
		"results": resultsByName,
		"status":  s.controller.StatusAll(),
	})
}

func (s *Server) handleStopServers(w http.ResponseWriter, r *http.Request) {
	results := make(map[string]bool)
	for _, name := range s.controller.AgentNames() {
		results[name] = s.controller.StopAgent(name) == nil
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"results": results,
	})
}

func (s *Server) handleServerStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.controller.StatusAll())
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	file, header, err := r.FormFile("audio")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "No audio file provided")
		return
	}
	defer file.Close()

	if header.Filename == "" {
		s.writeError(w, http.StatusBadRequest, "No file selected")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to read upload: %v", err))
		return
	}

	rec := s.store.CreateTranscription(header.Filename)
	go s.transcribeInBackground(rec.ID, header.Filename, data)

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":          true,
		"transcription_id": rec.ID,
		"status":           store.StatusProcessing,
	})
}

// transcribeInBackground dispatches the bulk transcription call and stores
// the outcome. The tool call carries the long timeout tier, so this never
// runs on the request goroutine.
func (s *Server) transcribeInBackground(id, filename string, audio []byte) {
	result, err := s.controller.CallTool(transcriberAgent, toolTranscribe, map[string]any{
		"audio_data": base64.StdEncoding.EncodeToString(audio),
		"filename":   filename,
	})
	if err != nil {
		s.logger.Error("Transcription failed",
			zap.String("transcription_id", id),
			zap.Error(err))
		if ferr := s.store.FailTranscription(id, err.Error()); ferr != nil {
			s.logger.Warn("Failed to record transcription failure", zap.Error(ferr))
		}
		return
	}

	text := textFromResult(result)
	if text == "" {
		_ = s.store.FailTranscription(id, "transcriber returned no text")
		return
	}
	if err := s.store.CompleteTranscription(id, text); err != nil {
		s.logger.Warn("Failed to store transcription result", zap.Error(err))
		return
	}
	s.logger.Info("Transcription completed",
		zap.String("transcription_id", id),
		zap.Int("chars", len(text)))
}

func (s *Server) handleGetTranscription(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec := s.store.GetTranscription(id)
	if rec == nil {
		s.writeError(w, http.StatusNotFound, "Transcription not found")
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListTranscriptions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.store.ListTranscriptions())
}

func (s *Server) handleAnalyzeMeetings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TranscriptionID string `json:"transcription_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	rec := s.store.GetTranscription(req.TranscriptionID)
	if rec == nil {
		s.writeError(w, http.StatusNotFound, "Transcription not found")
		return
	}
	if rec.Status != store.StatusCompleted {
		s.writeError(w, http.StatusBadRequest, "Transcription not completed")
		return
	}

	go s.analyzeInBackground(rec.ID, rec.Text)

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"status":  "analyzing",
	})
}

func (s *Server) analyzeInBackground(transcriptionID, text string) {
	result, err := s.controller.CallTool(schedulerAgent, toolAnalyze, map[string]any{
		"transcription_text": text,
		"transcription_id":   transcriptionID,
	})
	if err != nil {
		s.logger.Error("Meeting analysis failed",
			zap.String("transcription_id", transcriptionID),
			zap.Error(err))
		return
	}

	meetings := meetingsFromResult(result)
	if len(meetings) == 0 {
		s.logger.Info("No meetings detected",
			zap.String("transcription_id", transcriptionID))
	}
	if err := s.store.AddMeetings(transcriptionID, meetings); err != nil {
		s.logger.Warn("Failed to store detected meetings", zap.Error(err))
		return
	}
	s.logger.Info("Meeting analysis completed",
		zap.String("transcription_id", transcriptionID),
		zap.Int("meetings", len(meetings)))
}

func (s *Server) handleListMeetings(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.store.ListMeetings())
}

func (s *Server) handleScheduleMeetings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MeetingIDs []string `json:"meeting_ids"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	ids := req.MeetingIDs
	if len(ids) == 0 {
		ids = s.store.UnscheduledMeetingIDs()
	}

	scheduledCount := 0
	results := make([]string, 0, len(ids))
	for _, id := range ids {
		m := s.store.GetMeeting(id)
		if m == nil {
			results = append(results, fmt.Sprintf("Unknown meeting: %s", id))
			continue
		}
		if m.Scheduled {
			results = append(results, fmt.Sprintf("Already scheduled: %s", m.OriginalText))
			continue
		}

		event, err := s.scheduleMeeting(m)
		if err != nil {
			// Partial failures are reported per meeting, not as a request
			// failure; the remaining meetings still get their chance.
			s.logger.Warn("Failed to schedule meeting",
				zap.String("meeting_id", id),
				zap.Error(err))
			results = append(results, fmt.Sprintf("Failed: %s (%v)", m.OriginalText, err))
			continue
		}

		if err := s.store.MarkScheduled(id, event); err != nil {
			results = append(results, fmt.Sprintf("Failed to record: %s", m.OriginalText))
			continue
		}
		scheduledCount++
		results = append(results, fmt.Sprintf("Scheduled: %s", m.OriginalText))
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"scheduled_count": scheduledCount,
		"results":         results,
	})
}

func (s *Server) scheduleMeeting(m *store.Meeting) (*store.CalendarEvent, error) {
	result, err := s.controller.CallTool(schedulerAgent, toolSchedule, map[string]any{
		"meetings": []map[string]any{{
			"id":            m.ID,
			"original_text": m.OriginalText,
			"datetime":      m.DateTime,
			"context":       m.Context,
			"confidence":    m.Confidence,
		}},
	})
	if err != nil {
		return nil, err
	}

	event := calendarEventFromResult(result)
	if event == nil {
		event = &store.CalendarEvent{
			EventID:  "cal_" + m.ID,
			Title:    "Meeting from Transcription",
			DateTime: m.DateTime,
		}
	}
	return event, nil
}
