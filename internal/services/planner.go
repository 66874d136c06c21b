package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"lessonplan-ai/internal/models"
)

// ProgressCallback is called during generation to report progress
type ProgressCallback func(step, message string, current, total int)

const (
	defaultPollInterval = 1500 * time.Millisecond
	defaultRunTimeout   = 90 * time.Second

	// How much raw model output to keep in diagnostics when parsing fails.
	maxRawDetail = 500

	assistantName = "Lesson Plan Generator"
)

// GenerationRequest carries one user submission. The document is held in
// memory for the duration of the request and never reused.
type GenerationRequest struct {
	FileName      string
	Document      []byte
	DurationDays  int
	TeacherPrompt string
}

// GenerationResult is a validated lesson plan set plus the upstream
// resource ids the run consumed.
type GenerationResult struct {
	LessonPlans models.LessonPlanSet
	StartDate   string
	FileID      string
	AssistantID string
	ThreadID    string
	RunID       string
}

// PlannerService orchestrates one lesson-plan generation against the
// OpenAI Assistants API: upload the PDF, create a file_search assistant,
// run a thread, poll to completion and validate the returned JSON.
type PlannerService struct {
	client       *openai.Client
	model        string
	cleanup      bool
	pollInterval time.Duration
	runTimeout   time.Duration
	now          func() time.Time
}

func NewPlannerService(apiKey, model, apiEndpoint string, cleanup bool) *PlannerService {
	s := &PlannerService{
		model:        model,
		cleanup:      cleanup,
		pollInterval: defaultPollInterval,
		runTimeout:   defaultRunTimeout,
		now:          time.Now,
	}
	if apiKey == "" {
		return s
	}

	cfg := openai.DefaultConfig(apiKey)
	if apiEndpoint != "" {
		cfg.BaseURL = apiEndpoint
	}
	s.client = openai.NewClientWithConfig(cfg)
	return s
}

func (s *PlannerService) disabled() bool {
	return s.client == nil || s.model == ""
}

// Generate runs the full orchestration for one submission. All failures
// are terminal *PlanError values; nothing is retried.
func (s *PlannerService) Generate(ctx context.Context, req GenerationRequest, progress ProgressCallback) (*GenerationResult, error) {
	if len(req.Document) == 0 {
		return nil, &PlanError{Code: CodeMissingInput, Message: "No PDF file provided"}
	}
	if s.disabled() {
		return nil, &PlanError{Code: CodeNotConfigured, Message: "OpenAI API key not configured"}
	}
	if req.DurationDays < 1 {
		req.DurationDays = 7
	}

	startDate := NextWeekday(s.now()).Format(ISODate)
	result := &GenerationResult{StartDate: startDate}

	// The uploaded file and the assistant are request-scoped; release
	// them once the run is over so they do not pile up upstream.
	defer s.releaseUpstream(result)

	report(progress, "upload", "Uploading PDF for analysis", 5, 100)
	file, err := s.client.CreateFileBytes(ctx, openai.FileBytesRequest{
		Name:    req.FileName,
		Bytes:   req.Document,
		Purpose: openai.PurposeAssistants,
	})
	if err != nil {
		return nil, &PlanError{Code: CodeUploadFailed, Message: "Failed to upload PDF for analysis", Err: err}
	}
	result.FileID = file.ID

	report(progress, "analyze", "Configuring curriculum assistant", 15, 100)
	name := assistantName
	instructions := plannerInstructions(startDate)
	assistant, err := s.client.CreateAssistant(ctx, openai.AssistantRequest{
		Model:        s.model,
		Name:         &name,
		Instructions: &instructions,
		Tools: []openai.AssistantTool{
			{Type: openai.AssistantToolTypeFileSearch},
		},
	})
	if err != nil {
		return nil, &PlanError{Code: CodeUploadFailed, Message: "Failed to create analysis assistant", Err: err}
	}
	result.AssistantID = assistant.ID

	thread, err := s.client.CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		return nil, &PlanError{Code: CodeUploadFailed, Message: "Failed to create analysis thread", Err: err}
	}
	result.ThreadID = thread.ID

	if _, err := s.client.CreateMessage(ctx, thread.ID, openai.MessageRequest{
		Role:    openai.ChatMessageRoleUser,
		Content: generationPrompt(req.DurationDays, req.TeacherPrompt, startDate),
		Attachments: []openai.ThreadAttachment{
			{
				FileID: file.ID,
				Tools:  []openai.ThreadAttachmentTool{{Type: "file_search"}},
			},
		},
	}); err != nil {
		return nil, &PlanError{Code: CodeUploadFailed, Message: "Failed to attach PDF to analysis thread", Err: err}
	}

	report(progress, "generate", "Generating lesson plans", 25, 100)
	run, err := s.client.CreateRun(ctx, thread.ID, openai.RunRequest{AssistantID: assistant.ID})
	if err != nil {
		return nil, &PlanError{Code: CodeRunFailed, Message: "Assistant run failed", Err: err}
	}
	result.RunID = run.ID

	run, err = s.waitForRun(ctx, thread.ID, run, progress)
	if err != nil {
		return nil, err
	}

	report(progress, "parse", "Processing assistant response", 90, 100)
	raw, err := s.latestAssistantText(ctx, thread.ID)
	if err != nil {
		return nil, err
	}

	plans, err := parsePlanPayload(raw)
	if err != nil {
		return nil, err
	}

	result.LessonPlans = plans
	report(progress, "complete", "Lesson plans ready", 100, 100)
	return result, nil
}

// waitForRun polls run status on a fixed interval until the run reaches a
// terminal state or the wall-clock ceiling is hit. It blocks only the
// calling request.
func (s *PlannerService) waitForRun(ctx context.Context, threadID string, run openai.Run, progress ProgressCallback) (openai.Run, error) {
	deadline := s.now().Add(s.runTimeout)
	for {
		switch run.Status {
		case openai.RunStatusCompleted:
			return run, nil
		case openai.RunStatusFailed, openai.RunStatusCancelled, openai.RunStatusExpired:
			detail := string(run.Status)
			if run.LastError != nil && run.LastError.Message != "" {
				detail = run.LastError.Message
			}
			return run, &PlanError{Code: CodeRunFailed, Message: "Assistant run failed", Details: detail}
		}

		if s.now().After(deadline) {
			return run, &PlanError{Code: CodeTimeout, Message: "Timed out while generating lesson plan"}
		}

		report(progress, "generate", fmt.Sprintf("Waiting for analysis (%s)", run.Status), 50, 100)

		timer := time.NewTimer(s.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return run, fmt.Errorf("wait for run: %w", ctx.Err())
		case <-timer.C:
		}

		next, err := s.client.RetrieveRun(ctx, threadID, run.ID)
		if err != nil {
			return run, &PlanError{Code: CodeRunFailed, Message: "Assistant run failed", Err: err}
		}
		run = next
	}
}

// latestAssistantText fetches recent thread messages and concatenates the
// text segments of the newest assistant-authored one.
func (s *PlannerService) latestAssistantText(ctx context.Context, threadID string) (string, error) {
	limit := 10
	list, err := s.client.ListMessage(ctx, threadID, &limit, nil, nil, nil, nil)
	if err != nil {
		return "", &PlanError{Code: CodeEmptyResponse, Message: "No response from the assistant", Err: err}
	}

	var msg *openai.Message
	for i := range list.Messages {
		if list.Messages[i].Role == openai.ChatMessageRoleAssistant {
			msg = &list.Messages[i]
			break
		}
	}
	if msg == nil && len(list.Messages) > 0 {
		msg = &list.Messages[0]
	}
	if msg == nil {
		return "", &PlanError{Code: CodeEmptyResponse, Message: "No response from the assistant"}
	}

	var builder strings.Builder
	for _, part := range msg.Content {
		if part.Type == "text" && part.Text != nil {
			builder.WriteString(part.Text.Value)
		}
	}
	if builder.Len() == 0 {
		return "", &PlanError{Code: CodeEmptyResponse, Message: "No response from the assistant"}
	}
	return builder.String(), nil
}

// parsePlanPayload strips an optional markdown fence, parses the payload
// exactly once, and validates the lessonPlans mapping, enumerating every
// schema violation it finds.
func parsePlanPayload(raw string) (models.LessonPlanSet, error) {
	cleaned := extractJSON(raw)

	var envelope struct {
		LessonPlans json.RawMessage `json:"lessonPlans"`
	}
	if err := json.Unmarshal([]byte(cleaned), &envelope); err != nil {
		return nil, &PlanError{
			Code:    CodeInvalidPayload,
			Message: "Failed to parse AI response. The AI may have returned invalid JSON.",
			Details: truncate(raw, maxRawDetail),
			Err:     err,
		}
	}

	inner := strings.TrimSpace(string(envelope.LessonPlans))
	if inner == "" || inner == "null" || !strings.HasPrefix(inner, "{") {
		return nil, &PlanError{
			Code:    CodeInvalidShape,
			Message: "Invalid lesson plan structure returned from AI",
			Details: "lessonPlans must be a non-null object",
		}
	}

	var plans models.LessonPlanSet
	if err := json.Unmarshal(envelope.LessonPlans, &plans); err != nil {
		return nil, &PlanError{
			Code:    CodeInvalidShape,
			Message: "Invalid lesson plan structure returned from AI",
			Details: err.Error(),
			Err:     err,
		}
	}

	if violations := validateLessonPlans(plans); len(violations) > 0 {
		return nil, &PlanError{
			Code:    CodeInvalidShape,
			Message: "Invalid lesson plan structure returned from AI",
			Details: strings.Join(violations, "; "),
		}
	}

	return plans, nil
}

// validateLessonPlans checks every entry against the output contract and
// returns all violations rather than stopping at the first.
func validateLessonPlans(plans models.LessonPlanSet) []string {
	var violations []string
	for date, plan := range plans {
		if _, err := time.Parse(ISODate, date); err != nil {
			violations = append(violations, fmt.Sprintf("%s: key is not an ISO date", date))
		}
		if strings.TrimSpace(plan.Title) == "" {
			violations = append(violations, fmt.Sprintf("%s: missing title", date))
		}
		if len(plan.Notes) == 0 {
			violations = append(violations, fmt.Sprintf("%s: no notes", date))
		}
		for i, q := range plan.MiniQuiz {
			if len(q.Options) < 2 {
				violations = append(violations, fmt.Sprintf("%s: quiz question %d has fewer than 2 options", date, i+1))
				continue
			}
			if q.CorrectAnswer < 0 || q.CorrectAnswer >= len(q.Options) {
				violations = append(violations, fmt.Sprintf("%s: quiz question %d correctAnswer out of range", date, i+1))
			}
		}
	}
	return violations
}

// extractJSON removes markdown code block formatting if present and extracts the JSON
func extractJSON(content string) string {
	content = strings.TrimSpace(content)

	// Remove markdown code blocks like ```json ... ``` or ``` ... ```
	if strings.HasPrefix(content, "```") {
		start := 3
		if newlineIdx := strings.Index(content[start:], "\n"); newlineIdx != -1 {
			start += newlineIdx + 1
		}
		if endIdx := strings.Index(content[start:], "```"); endIdx != -1 {
			content = content[start : start+endIdx]
		} else {
			content = content[start:]
		}
	}

	content = strings.TrimSpace(content)

	// Additional safety: narrow to the outermost JSON object if the model
	// wrapped it in prose.
	if startIdx := strings.Index(content, "{"); startIdx != -1 {
		if endIdx := strings.LastIndex(content, "}"); endIdx != -1 && endIdx > startIdx {
			content = content[startIdx : endIdx+1]
		}
	}

	return strings.TrimSpace(content)
}

// releaseUpstream deletes the uploaded file and the assistant once the
// run is over. Best effort: failures are logged, never surfaced. Threads
// are left to provider-side expiry.
func (s *PlannerService) releaseUpstream(result *GenerationResult) {
	if !s.cleanup || s.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if result.FileID != "" {
		if err := s.client.DeleteFile(ctx, result.FileID); err != nil {
			log.Printf("cleanup: delete file %s: %v", result.FileID, err)
		}
	}
	if result.AssistantID != "" {
		if _, err := s.client.DeleteAssistant(ctx, result.AssistantID); err != nil {
			log.Printf("cleanup: delete assistant %s: %v", result.AssistantID, err)
		}
	}
}

func report(progress ProgressCallback, step, message string, current, total int) {
	if progress != nil {
		progress(step, message, current, total)
	}
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

func plannerInstructions(startDate string) string {
	return fmt.Sprintf(`You are an expert curriculum designer and educator. You will analyze an attached textbook PDF and create comprehensive lesson plans.

CRITICAL: You MUST respond with ONLY a valid JSON object. Do not include any markdown formatting, code blocks, or additional text.

Return ONLY this JSON structure (no markdown, no code blocks):
{
  "lessonPlans": {
    "2024-01-15": {
      "title": "Day 1 - Introduction to Physics Concepts",
      "date": "2024-01-15",
      "dayNumber": 1,
      "duration": "Approximately 1 hour",
      "notes": ["Key concept 1", "Key concept 2", "Important formula"],
      "reviewQuestions": ["What is the definition of...?", "How do you calculate...?"],
      "miniQuiz": [
        {
          "question": "What is the SI unit of force?",
          "options": ["Newton", "Joule", "Watt", "Pascal"],
          "correctAnswer": 0,
          "explanation": "The Newton is the SI unit of force, named after Sir Isaac Newton."
        }
      ],
      "standards": ["NGSS-HS-PS2-1", "Chapter 1 Objectives"],
      "chapter": "Chapter 1: Introduction to Physics"
    }
  }
}

Requirements:
- Create one lesson plan per day of the requested duration
- Each lesson should be approximately 1 hour
- Include 5-8 student notes per lesson
- Include 3-5 review questions per lesson
- Include 3-5 quiz questions per lesson, each with 4 options and an explanation
- Base ALL content directly on the attached textbook PDF
- Use real dates in YYYY-MM-DD format
- Start on %s and schedule on weekdays only (skip Sat/Sun)
- Prefix each lesson title with "Day N - " where N starts at 1
- Also include a field "dayNumber": N for each lesson`, startDate)
}

func generationPrompt(durationDays int, teacherPrompt, startDate string) string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "Please analyze the attached textbook PDF and create a %d-day lesson plan.\n\n", durationDays)
	if strings.TrimSpace(teacherPrompt) != "" {
		fmt.Fprintf(&builder, "Additional instructions: %s\n\n", strings.TrimSpace(teacherPrompt))
	}
	fmt.Fprintf(&builder, "Start on %s, schedule on weekdays only (skip Sat/Sun). Prefix titles with \"Day N - \" and include a numeric dayNumber field.", startDate)
	if start, err := time.Parse(ISODate, startDate); err == nil && durationDays <= 31 {
		fmt.Fprintf(&builder, "\nUse exactly these dates: %s.", strings.Join(WeekdayDates(start, durationDays), ", "))
	}
	return builder.String()
}
