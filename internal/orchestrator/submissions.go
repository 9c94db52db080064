package orchestrator

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/joeycumines/ctf-arena/internal/apperror"
	"github.com/joeycumines/ctf-arena/internal/model"
)

// GetSubmission fetches a submission by id, for status polling (spec.md
// §6's GET /challenges/:id/submission/:sid).
func (o *Orchestrator) GetSubmission(ctx context.Context, id uuid.UUID) (model.ChallengeSubmission, error) {
	row := o.db.QueryRowContext(ctx, `
		SELECT id, user_id, challenge_id, language, source_code, binary_id, status,
		       test_results, instructions, error_message, created_at, completed_at
		FROM challenge_submissions
		WHERE id = $1
	`, id)

	var (
		sub          model.ChallengeSubmission
		binaryID     sql.NullString
		testResults  []byte
		instructions sql.NullInt64
		errMsg       sql.NullString
		completedAt  sql.NullTime
	)
	if err := row.Scan(&sub.ID, &sub.UserID, &sub.ChallengeID, &sub.Language, &sub.SourceCode, &binaryID, &sub.Status,
		&testResults, &instructions, &errMsg, &sub.CreatedAt, &completedAt); err != nil {
		if err == sql.ErrNoRows {
			return model.ChallengeSubmission{}, apperror.NotFound(`submission %s not found`, id)
		}
		return model.ChallengeSubmission{}, apperror.Wrap(apperror.KindInternal, `scan submission`, err)
	}
	if binaryID.Valid {
		sub.BinaryID = &binaryID.String
	}
	if len(testResults) > 0 {
		if err := json.Unmarshal(testResults, &sub.TestResults); err != nil {
			return model.ChallengeSubmission{}, apperror.Wrap(apperror.KindInternal, `unmarshal test results`, err)
		}
	}
	if instructions.Valid {
		v := uint64(instructions.Int64)
		sub.Instructions = &v
	}
	if errMsg.Valid {
		sub.ErrorMessage = &errMsg.String
	}
	if completedAt.Valid {
		sub.CompletedAt = &completedAt.Time
	}
	return sub, nil
}

// insertSubmission persists the initial status=pending row (spec.md §4.6
// step 1).
func (o *Orchestrator) insertSubmission(ctx context.Context, sub model.ChallengeSubmission) error {
	_, err := o.db.ExecContext(ctx, `
		INSERT INTO challenge_submissions (id, user_id, challenge_id, language, source_code, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, sub.ID, sub.UserID, sub.ChallengeID, sub.Language, sub.SourceCode, sub.Status, sub.CreatedAt)
	if err != nil {
		return apperror.Wrap(apperror.KindInternal, `insert submission`, err)
	}
	return nil
}

// updateSubmissionRunning advances a submission to status=running with its
// binary_id set (spec.md §4.6 step 3).
func (o *Orchestrator) updateSubmissionRunning(ctx context.Context, sub model.ChallengeSubmission) error {
	_, err := o.db.ExecContext(ctx, `
		UPDATE challenge_submissions SET status = $2, binary_id = $3 WHERE id = $1
	`, sub.ID, sub.Status, sub.BinaryID)
	if err != nil {
		return apperror.Wrap(apperror.KindInternal, `update submission running`, err)
	}
	return nil
}

// finalizeSubmission persists the terminal state of a submission: its test
// results, instruction score, error message (if any), and completion time
// (spec.md §4.6 step 5).
func (o *Orchestrator) finalizeSubmission(ctx context.Context, sub model.ChallengeSubmission) error {
	resultsJSON, err := json.Marshal(sub.TestResults)
	if err != nil {
		return apperror.Wrap(apperror.KindInternal, `marshal test results`, err)
	}
	var instructions any
	if sub.Instructions != nil {
		instructions = int64(*sub.Instructions)
	}
	_, err = o.db.ExecContext(ctx, `
		UPDATE challenge_submissions
		SET status = $2, test_results = $3, instructions = $4, error_message = $5, completed_at = $6
		WHERE id = $1
	`, sub.ID, sub.Status, resultsJSON, instructions, sub.ErrorMessage, sub.CompletedAt)
	if err != nil {
		return apperror.Wrap(apperror.KindInternal, `finalize submission`, err)
	}
	return nil
}
