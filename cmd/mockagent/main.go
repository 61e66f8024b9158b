// Command mockagent is a stdio child that speaks the meetingd agent
// protocol with canned tool behaviors. It stands in for the real
// transcriber/scheduler scripts during development and demos.
//
// It stays dependency-free on purpose: it models an arbitrary external
// child, not a meetingd component.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"
)

type request struct {
	Protocol string `json:"protocol"`
	ID       *int64 `json:"id"`
	Method   string `json:"method"`
	Params   struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"params"`
}

func main() {
	delay := flag.Duration("delay", 0, "artificial delay before every response")
	flag.Parse()

	out := bufio.NewWriter(os.Stdout)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 64<<20)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			fmt.Fprintf(os.Stderr, "mockagent: bad frame: %v\n", err)
			continue
		}
		if req.ID == nil {
			// Notification; nothing to answer.
			continue
		}

		if *delay > 0 {
			time.Sleep(*delay)
		}

		var resp map[string]any
		switch req.Method {
		case "initialize":
			resp = result(*req.ID, map[string]any{
				"protocolVersion": "2024-11-05",
				"serverInfo":      map[string]any{"name": "mockagent", "version": "1.0.0"},
			})
		case "tools/call":
			resp = handleToolCall(*req.ID, req.Params.Name, req.Params.Arguments)
		default:
			resp = rpcError(*req.ID, -32601, "method not found: "+req.Method)
		}

		data, err := json.Marshal(resp)
		if err != nil {
			continue
		}
		out.Write(data)
		out.WriteByte('\n')
		out.Flush()
	}
}

func handleToolCall(id int64, tool string, args map[string]any) map[string]any {
	switch tool {
	case "ping":
		return result(id, "pong")
	case "echo":
		return result(id, args)
	case "sleep":
		if secs, ok := args["seconds"].(float64); ok {
			time.Sleep(time.Duration(secs * float64(time.Second)))
		}
		return result(id, "done")
	case "transcribe_audio_file":
		filename, _ := args["filename"].(string)
		payload, _ := json.Marshal(map[string]any{
			"text":   fmt.Sprintf("This is a transcription of %s. Let's schedule a meeting for tomorrow at 2pm to discuss the project progress.", filename),
			"status": "completed",
		})
		return result(id, textContent(string(payload)))
	case "list_transcriptions":
		payload, _ := json.Marshal(map[string]any{"transcriptions": []any{}})
		return result(id, textContent(string(payload)))
	case "get_upcoming_meetings":
		payload, _ := json.Marshal(map[string]any{"meetings": []any{}})
		return result(id, textContent(string(payload)))
	case "analyze_transcription_for_meetings":
		payload, _ := json.Marshal(map[string]any{
			"meetings": []map[string]any{{
				"original_text": "Let's schedule a meeting for tomorrow at 2pm",
				"datetime":      time.Now().Add(24 * time.Hour).Format("2006-01-02T15:04:05"),
				"context":       "project discussion",
				"confidence":    95,
			}},
		})
		return result(id, textContent(string(payload)))
	case "schedule_detected_meetings":
		payload, _ := json.Marshal(map[string]any{
			"event_id":   fmt.Sprintf("cal_mock_%d", id),
			"event_link": "https://calendar.example.com/event",
			"title":      "Meeting from Transcription",
		})
		return result(id, textContent(string(payload)))
	default:
		return rpcError(id, -32602, "unknown tool: "+tool)
	}
}

func textContent(text string) []map[string]any {
	return []map[string]any{{"type": "text", "text": text}}
}

func result(id int64, payload any) map[string]any {
	return map[string]any{"protocol": "2.0", "id": id, "result": payload}
}

func rpcError(id int64, code int, message string) map[string]any {
	return map[string]any{
		"protocol": "2.0",
		"id":       id,
		"error":    map[string]any{"code": code, "message": message},
	}
}
