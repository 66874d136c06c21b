package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"lessonplan-ai/internal/models"
	"lessonplan-ai/internal/services"
)

const maxMultipartMemory = 32 << 20 // 32 MB

type Server struct {
	mux         *http.ServeMux
	planner     *services.PlannerService
	documents   *services.DocumentService
	generations *services.GenerationService
	pdf         *services.PDFService
	jobs        *JobManager
}

// GenerationResponse is the success payload of a generation request.
type GenerationResponse struct {
	LessonPlans models.LessonPlanSet `json:"lessonPlans"`
	StartDate   string               `json:"startDate,omitempty"`
}

func NewServer(
	planner *services.PlannerService,
	documents *services.DocumentService,
	generations *services.GenerationService,
	pdf *services.PDFService,
) *Server {
	s := &Server{
		mux:         http.NewServeMux(),
		planner:     planner,
		documents:   documents,
		generations: generations,
		pdf:         pdf,
		jobs:        NewJobManager(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	s.mux.HandleFunc("/generate-lesson-plan", s.handleGenerate)
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/lesson-plans/jobs", s.handleJobs)
	s.mux.HandleFunc("/api/lesson-plans/jobs/", s.handleJobStatus)
	s.mux.HandleFunc("/api/generations", s.handleListGenerations)
	s.mux.HandleFunc("/api/generations/", s.handleGetGeneration)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]string{"message": "Lesson Plan Generator API"})
	case http.MethodPost:
		s.handleGeneratePost(w, r)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (s *Server) handleGeneratePost(w http.ResponseWriter, r *http.Request) {
	req, ok := s.parseGenerationForm(w, r)
	if !ok {
		return
	}

	result, err := s.planner.Generate(r.Context(), *req, nil)
	if err != nil {
		log.Printf("generate lesson plan: %v", err)
		writePlanError(w, err)
		return
	}

	// History is write-behind; do not tie it to the request context.
	s.recordGeneration(context.Background(), req, result)
	writeJSON(w, http.StatusOK, GenerationResponse{
		LessonPlans: result.LessonPlans,
		StartDate:   result.StartDate,
	})
}

// parseGenerationForm validates the multipart submission and reads the
// PDF into memory. It writes the error response itself when it fails.
func (s *Server) parseGenerationForm(w http.ResponseWriter, r *http.Request) (*services.GenerationRequest, bool) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return nil, false
	}
	if form := r.MultipartForm; form != nil {
		defer form.RemoveAll()
	}

	file, header, err := r.FormFile("pdf")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No PDF file provided")
		return nil, false
	}
	defer file.Close()

	duration := 7
	if raw := strings.TrimSpace(r.FormValue("duration")); raw != "" {
		duration, err = strconv.Atoi(raw)
		if err != nil || duration < 1 {
			writeError(w, http.StatusBadRequest, "duration must be a positive number of days")
			return nil, false
		}
	}

	data, err := io.ReadAll(file)
	if err != nil || len(data) == 0 {
		writeError(w, http.StatusBadRequest, "No PDF file provided")
		return nil, false
	}

	return &services.GenerationRequest{
		FileName:      header.Filename,
		Document:      data,
		DurationDays:  duration,
		TeacherPrompt: r.FormValue("teacherPrompt"),
	}, true
}

// recordGeneration archives the uploaded PDF and the validated result.
// History is write-behind: failures are logged and never affect the
// response already owed to the caller.
func (s *Server) recordGeneration(ctx context.Context, req *services.GenerationRequest, result *services.GenerationResult) {
	if s.documents == nil || s.generations == nil {
		return
	}

	gen := &models.Generation{
		DocumentName:  req.FileName,
		DurationDays:  req.DurationDays,
		TeacherPrompt: req.TeacherPrompt,
		StartDate:     result.StartDate,
		PlanCount:     len(result.LessonPlans),
		FileID:        result.FileID,
		AssistantID:   result.AssistantID,
		ThreadID:      result.ThreadID,
		RunID:         result.RunID,
	}

	doc, err := s.documents.Create(ctx, req.FileName, bytes.NewReader(req.Document))
	if err != nil {
		log.Printf("archive document %s: %v", req.FileName, err)
	} else {
		gen.DocumentID.Int64 = doc.ID
		gen.DocumentID.Valid = true
		if s.pdf != nil {
			if pages, err := s.pdf.PageCount(doc.StoredPath); err == nil {
				_ = s.documents.UpdatePageCount(ctx, doc.ID, pages)
			}
		}
	}

	payload, err := json.Marshal(result.LessonPlans)
	if err != nil {
		log.Printf("marshal generation payload: %v", err)
		return
	}
	gen.Payload = string(payload)

	if _, err := s.generations.Record(ctx, gen); err != nil {
		log.Printf("record generation: %v", err)
	}
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/lesson-plans/jobs" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	req, ok := s.parseGenerationForm(w, r)
	if !ok {
		return
	}

	jobID, snapshot := s.jobs.CreateJob(req.FileName, req.DurationDays)
	go s.runGenerationJob(context.Background(), jobID, req)

	writeJSON(w, http.StatusAccepted, snapshot)
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	jobID := strings.TrimPrefix(r.URL.Path, "/api/lesson-plans/jobs/")
	jobID = strings.Trim(jobID, "/")
	if jobID == "" {
		http.NotFound(w, r)
		return
	}

	job, ok := s.jobs.GetJob(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	writeJSON(w, http.StatusOK, job)
}

func (s *Server) runGenerationJob(ctx context.Context, jobID string, req *services.GenerationRequest) {
	s.jobs.MarkProcessing(jobID)

	progress := func(step, message string, current, total int) {
		s.jobs.UpdateProgress(jobID, step, message, current, total)
	}

	result, err := s.planner.Generate(ctx, *req, progress)
	if err != nil {
		log.Printf("generation job %s: %v", jobID, err)
		s.jobs.MarkFailed(jobID, err.Error())
		return
	}

	s.recordGeneration(ctx, req, result)
	s.jobs.MarkComplete(jobID, GenerationResponse{
		LessonPlans: result.LessonPlans,
		StartDate:   result.StartDate,
	})
}

func (s *Server) handleListGenerations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if s.generations == nil {
		writeJSON(w, http.StatusOK, map[string]any{"generations": []any{}})
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if l, err := strconv.Atoi(raw); err == nil && l > 0 {
			limit = l
		}
	}

	gens, err := s.generations.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]map[string]any, 0, len(gens))
	for _, gen := range gens {
		out = append(out, map[string]any{
			"id":            gen.ID,
			"documentName":  gen.DocumentName,
			"durationDays":  gen.DurationDays,
			"teacherPrompt": gen.TeacherPrompt,
			"startDate":     gen.StartDate,
			"planCount":     gen.PlanCount,
			"createdAt":     gen.CreatedAt.Format(timeLayout),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"generations": out})
}

func (s *Server) handleGetGeneration(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if s.generations == nil {
		http.NotFound(w, r)
		return
	}

	idStr := strings.TrimPrefix(r.URL.Path, "/api/generations/")
	idStr = strings.Trim(idStr, "/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid generation id")
		return
	}

	gen, err := s.generations.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":            gen.ID,
		"documentName":  gen.DocumentName,
		"durationDays":  gen.DurationDays,
		"teacherPrompt": gen.TeacherPrompt,
		"startDate":     gen.StartDate,
		"planCount":     gen.PlanCount,
		"createdAt":     gen.CreatedAt.Format(timeLayout),
		"lessonPlans":   json.RawMessage(gen.Payload),
	})
}

// writePlanError maps a generation failure to an HTTP status. Credential
// and quota conditions are pattern-matched out of the upstream error text
// on a best-effort basis, mirroring the provider's wording.
func writePlanError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := "Failed to generate lesson plan. Please try again."
	details := ""

	var pe *services.PlanError
	matchText := err.Error()
	if errors.As(err, &pe) {
		message = pe.Message
		details = pe.Details
		if pe.Err != nil {
			matchText += " " + pe.Err.Error()
		}
		switch pe.Code {
		case services.CodeMissingInput:
			status = http.StatusBadRequest
		case services.CodeTimeout:
			status = http.StatusGatewayTimeout
		}
	}

	if status == http.StatusInternalServerError {
		lower := strings.ToLower(matchText)
		switch {
		case strings.Contains(lower, "api key") || strings.Contains(lower, "invalid_api_key"):
			status = http.StatusUnauthorized
			message = "OpenAI API key is invalid or missing. Please check your configuration."
		case strings.Contains(lower, "quota"):
			status = http.StatusTooManyRequests
			message = "OpenAI API quota exceeded. Please check your billing settings."
		case strings.Contains(lower, "rate limit"):
			status = http.StatusTooManyRequests
			message = "API rate limit exceeded. Please try again in a moment."
		}
	}

	payload := map[string]string{"error": message}
	if details != "" {
		payload["details"] = details
	}
	writeJSON(w, status, payload)
}

const timeLayout = time.RFC3339

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
