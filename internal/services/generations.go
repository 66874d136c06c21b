package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"lessonplan-ai/internal/models"
)

// GenerationService persists generation history: what was requested, the
// validated payload, and the upstream resources the run consumed.
type GenerationService struct {
	db *sql.DB
}

func NewGenerationService(db *sql.DB) *GenerationService {
	return &GenerationService{db: db}
}

func (s *GenerationService) Record(ctx context.Context, gen *models.Generation) (*models.Generation, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO generations (
			document_id, document_name, duration_days, teacher_prompt,
			start_date, plan_count, payload,
			openai_file_id, openai_assistant_id, openai_thread_id, openai_run_id,
			created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`,
		gen.DocumentID, gen.DocumentName, gen.DurationDays, gen.TeacherPrompt,
		gen.StartDate, gen.PlanCount, gen.Payload,
		gen.FileID, gen.AssistantID, gen.ThreadID, gen.RunID,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert generation: %w", err)
	}
	id, _ := res.LastInsertId()
	gen.ID = id
	gen.CreatedAt = now
	return gen, nil
}

// List returns recent generations without their payloads, newest first.
func (s *GenerationService) List(ctx context.Context, limit int) ([]models.Generation, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, document_name, duration_days, teacher_prompt,
		       start_date, plan_count,
		       openai_file_id, openai_assistant_id, openai_thread_id, openai_run_id,
		       created_at
		FROM generations
		ORDER BY created_at DESC, id DESC
		LIMIT ?;
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	defer rows.Close()

	var out []models.Generation
	for rows.Next() {
		var gen models.Generation
		if err := rows.Scan(
			&gen.ID, &gen.DocumentID, &gen.DocumentName, &gen.DurationDays, &gen.TeacherPrompt,
			&gen.StartDate, &gen.PlanCount,
			&gen.FileID, &gen.AssistantID, &gen.ThreadID, &gen.RunID,
			&gen.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan generation: %w", err)
		}
		out = append(out, gen)
	}
	return out, rows.Err()
}

func (s *GenerationService) GetByID(ctx context.Context, id int64) (*models.Generation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, document_name, duration_days, teacher_prompt,
		       start_date, plan_count, payload,
		       openai_file_id, openai_assistant_id, openai_thread_id, openai_run_id,
		       created_at
		FROM generations WHERE id = ?;
	`, id)
	var gen models.Generation
	if err := row.Scan(
		&gen.ID, &gen.DocumentID, &gen.DocumentName, &gen.DurationDays, &gen.TeacherPrompt,
		&gen.StartDate, &gen.PlanCount, &gen.Payload,
		&gen.FileID, &gen.AssistantID, &gen.ThreadID, &gen.RunID,
		&gen.CreatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("generation %d not found", id)
		}
		return nil, fmt.Errorf("scan generation: %w", err)
	}
	return &gen, nil
}
