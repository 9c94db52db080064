// Package challenge implements the read-side repository for spec.md §3's
// Challenge entity: the coding problems the orchestrator compiles and
// executes submissions against.
package challenge

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/joeycumines/ctf-arena/internal/apperror"
	"github.com/joeycumines/ctf-arena/internal/model"
)

// Repository is a thin read layer over the challenges table.
type Repository struct {
	db *sql.DB
}

// New constructs a Repository.
func New(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Challenge fetches a single challenge by id, including its test cases and
// their (never wire-exposed) expected_stdout.
func (r *Repository) Challenge(ctx context.Context, id string) (model.Challenge, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, description, category, difficulty, input_spec, output_spec,
		       test_cases, verify_mode, is_active, network_enabled, env_vars, baselines
		FROM challenges
		WHERE id = $1
	`, id)

	var (
		c            model.Challenge
		inputSpec    sql.NullString
		testCasesRaw []byte
		envVarsRaw   []byte
		baselinesRaw []byte
	)
	if err := row.Scan(&c.ID, &c.Name, &c.Description, &c.Category, &c.Difficulty, &inputSpec, &c.OutputSpec,
		&testCasesRaw, &c.VerifyMode, &c.IsActive, &c.NetworkEnabled, &envVarsRaw, &baselinesRaw); err != nil {
		if err == sql.ErrNoRows {
			return model.Challenge{}, apperror.NotFound(`challenge %q not found`, id)
		}
		return model.Challenge{}, apperror.Wrap(apperror.KindInternal, `scan challenge`, err)
	}
	if inputSpec.Valid {
		c.InputSpec = &inputSpec.String
	}
	if len(testCasesRaw) > 0 {
		if err := json.Unmarshal(testCasesRaw, &c.TestCases); err != nil {
			return model.Challenge{}, apperror.Wrap(apperror.KindInternal, `unmarshal test cases`, err)
		}
	}
	if len(envVarsRaw) > 0 {
		if err := json.Unmarshal(envVarsRaw, &c.EnvVars); err != nil {
			return model.Challenge{}, apperror.Wrap(apperror.KindInternal, `unmarshal env vars`, err)
		}
	}
	if len(baselinesRaw) > 0 {
		if err := json.Unmarshal(baselinesRaw, &c.Baselines); err != nil {
			return model.Challenge{}, apperror.Wrap(apperror.KindInternal, `unmarshal baselines`, err)
		}
	}
	return c, nil
}

// List returns every active challenge's public projection (no test cases,
// since TestCase.ExpectedStdout is json:"-" anyway, but the stdin fields
// are omitted from the list view per spec.md §6's challenge listing
// surface by simply not populating TestCases here).
func (r *Repository) List(ctx context.Context) ([]model.Challenge, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, description, category, difficulty, input_spec, output_spec,
		       verify_mode, is_active, network_enabled
		FROM challenges
		WHERE is_active = true
		ORDER BY id
	`)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindInternal, `list challenges`, err)
	}
	defer rows.Close()

	var out []model.Challenge
	for rows.Next() {
		var c model.Challenge
		var inputSpec sql.NullString
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.Category, &c.Difficulty, &inputSpec, &c.OutputSpec,
			&c.VerifyMode, &c.IsActive, &c.NetworkEnabled); err != nil {
			return nil, err
		}
		if inputSpec.Valid {
			c.InputSpec = &inputSpec.String
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
