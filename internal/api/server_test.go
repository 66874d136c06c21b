package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"lessonplan-ai/internal/models"
	"lessonplan-ai/internal/services"
)

// fakeAssistantBackend serves just enough of the Assistants API for a
// full generation round trip: runs complete immediately and the single
// assistant message carries the configured payload.
type fakeAssistantBackend struct {
	payload      string
	uploadStatus int
	uploadError  string
}

func (f *fakeAssistantBackend) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/files", func(w http.ResponseWriter, r *http.Request) {
		if f.uploadStatus != 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(f.uploadStatus)
			fmt.Fprintf(w, `{"error":{"message":%q,"type":"invalid_request_error"}}`, f.uploadError)
			return
		}
		serveJSON(w, map[string]any{"id": "file-1", "object": "file"})
	})
	mux.HandleFunc("/assistants", func(w http.ResponseWriter, r *http.Request) {
		serveJSON(w, map[string]any{"id": "asst-1", "object": "assistant", "model": "gpt-4o"})
	})
	mux.HandleFunc("/threads", func(w http.ResponseWriter, r *http.Request) {
		serveJSON(w, map[string]any{"id": "thread-1", "object": "thread"})
	})
	mux.HandleFunc("/threads/thread-1/messages", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			serveJSON(w, map[string]any{"id": "msg-1", "object": "thread.message", "role": "user"})
			return
		}
		serveJSON(w, map[string]any{
			"object": "list",
			"data": []any{
				map[string]any{
					"id":   "msg-2",
					"role": "assistant",
					"content": []any{
						map[string]any{
							"type": "text",
							"text": map[string]any{"value": f.payload, "annotations": []any{}},
						},
					},
				},
			},
		})
	})
	mux.HandleFunc("/threads/thread-1/runs", func(w http.ResponseWriter, r *http.Request) {
		serveJSON(w, map[string]any{"id": "run-1", "object": "thread.run", "thread_id": "thread-1", "status": "completed"})
	})

	return mux
}

func serveJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func newTestServer(t *testing.T, backend *fakeAssistantBackend) *Server {
	t.Helper()
	ts := httptest.NewServer(backend.handler())
	t.Cleanup(ts.Close)

	planner := services.NewPlannerService("test-key", "gpt-4o", ts.URL, false)
	return NewServer(planner, nil, nil, nil)
}

func generationForm(t *testing.T, withFile bool, duration, prompt string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if withFile {
		part, err := writer.CreateFormFile("pdf", "textbook.pdf")
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write([]byte("%PDF-1.4 test")); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	_ = writer.WriteField("duration", duration)
	_ = writer.WriteField("teacherPrompt", prompt)
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &body, writer.FormDataContentType()
}

func weekdayPayload(t *testing.T, n int) string {
	t.Helper()
	dates := services.WeekdayDates(services.NextWeekday(time.Now()), n)
	plans := models.LessonPlanSet{}
	for i, date := range dates {
		plans[date] = models.LessonPlan{
			Title:           fmt.Sprintf("Day %d - Lesson", i+1),
			Date:            date,
			DayNumber:       i + 1,
			Duration:        "Approximately 1 hour",
			Notes:           []string{"a note"},
			ReviewQuestions: []string{"a question"},
			MiniQuiz: []models.QuizQuestion{
				{Question: "q", Options: []string{"a", "b", "c", "d"}, CorrectAnswer: 1, Explanation: "b"},
			},
			Standards: []string{"STD-1"},
			Chapter:   "Chapter 1",
		}
	}
	raw, err := json.Marshal(map[string]any{"lessonPlans": plans})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return string(raw)
}

func TestGenerateEndpointIdentification(t *testing.T) {
	s := newTestServer(t, &fakeAssistantBackend{})

	req := httptest.NewRequest(http.MethodGet, "/generate-lesson-plan", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["message"] == "" {
		t.Error("expected identification message")
	}
}

func TestGenerateEndpointMissingFile(t *testing.T) {
	s := newTestServer(t, &fakeAssistantBackend{})

	body, contentType := generationForm(t, false, "7", "")
	req := httptest.NewRequest(http.MethodPost, "/generate-lesson-plan", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGenerateEndpointBadDuration(t *testing.T) {
	s := newTestServer(t, &fakeAssistantBackend{})

	body, contentType := generationForm(t, true, "soon", "")
	req := httptest.NewRequest(http.MethodPost, "/generate-lesson-plan", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGenerateEndpointEndToEnd(t *testing.T) {
	backend := &fakeAssistantBackend{payload: weekdayPayload(t, 7)}
	s := newTestServer(t, backend)

	body, contentType := generationForm(t, true, "7", "focus on chapter one")
	req := httptest.NewRequest(http.MethodPost, "/generate-lesson-plan", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp GenerationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.LessonPlans) != 7 {
		t.Fatalf("expected 7 lesson plans, got %d", len(resp.LessonPlans))
	}
	for date := range resp.LessonPlans {
		day, err := time.Parse(services.ISODate, date)
		if err != nil {
			t.Errorf("key %q is not an ISO date: %v", date, err)
			continue
		}
		if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			t.Errorf("plan scheduled on %s (%s)", day.Weekday(), date)
		}
	}
}

func TestGenerateEndpointUpstreamCredentialError(t *testing.T) {
	backend := &fakeAssistantBackend{
		uploadStatus: http.StatusUnauthorized,
		uploadError:  "Incorrect API key provided: sk-xxx",
	}
	s := newTestServer(t, backend)

	body, contentType := generationForm(t, true, "7", "")
	req := httptest.NewRequest(http.MethodPost, "/generate-lesson-plan", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGenerateEndpointUpstreamQuotaError(t *testing.T) {
	backend := &fakeAssistantBackend{
		uploadStatus: http.StatusTooManyRequests,
		uploadError:  "You exceeded your current quota, please check your plan and billing details.",
	}
	s := newTestServer(t, backend)

	body, contentType := generationForm(t, true, "7", "")
	req := httptest.NewRequest(http.MethodPost, "/generate-lesson-plan", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestWritePlanErrorStatuses(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"MissingInput", &services.PlanError{Code: services.CodeMissingInput, Message: "No PDF file provided"}, http.StatusBadRequest},
		{"Timeout", &services.PlanError{Code: services.CodeTimeout, Message: "Timed out while generating lesson plan"}, http.StatusGatewayTimeout},
		{"InvalidPayload", &services.PlanError{Code: services.CodeInvalidPayload, Message: "bad json", Details: "raw text"}, http.StatusInternalServerError},
		{"RateLimitText", &services.PlanError{Code: services.CodeRunFailed, Message: "Assistant run failed", Details: "Rate limit reached for requests"}, http.StatusTooManyRequests},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writePlanError(rec, tc.err)
			if rec.Code != tc.want {
				t.Errorf("expected %d, got %d", tc.want, rec.Code)
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body["error"] == "" {
				t.Error("expected error message in body")
			}
		})
	}
}

func TestGenerationJobLifecycle(t *testing.T) {
	backend := &fakeAssistantBackend{payload: weekdayPayload(t, 7)}
	s := newTestServer(t, backend)

	body, contentType := generationForm(t, true, "7", "")
	req := httptest.NewRequest(http.MethodPost, "/api/lesson-plans/jobs", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var created GenerationJob
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected a job id")
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		statusReq := httptest.NewRequest(http.MethodGet, "/api/lesson-plans/jobs/"+created.ID, nil)
		statusRec := httptest.NewRecorder()
		s.Handler().ServeHTTP(statusRec, statusReq)
		if statusRec.Code != http.StatusOK {
			t.Fatalf("job status: expected 200, got %d", statusRec.Code)
		}

		var job GenerationJob
		if err := json.Unmarshal(statusRec.Body.Bytes(), &job); err != nil {
			t.Fatalf("decode job status: %v", err)
		}
		if job.Status == JobStatusComplete {
			if job.Result == nil || len(job.Result.LessonPlans) != 7 {
				t.Fatalf("expected 7 lesson plans in result, got %+v", job.Result)
			}
			return
		}
		if job.Status == JobStatusFailed {
			t.Fatalf("job failed: %s", job.Error)
		}
		if time.Now().After(deadline) {
			t.Fatalf("job did not complete in time, status %s", job.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
