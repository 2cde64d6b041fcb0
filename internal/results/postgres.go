package results

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MrWong99/vocaledge/pkg/types"
)

// Schema is the SQL DDL for the session_results table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS session_results (
    id                  TEXT PRIMARY KEY,
    session_date        TIMESTAMPTZ NOT NULL,
    scenario            TEXT NOT NULL DEFAULT 'NORMAL',
    persona_name        TEXT NOT NULL DEFAULT '',
    confidence_score    INTEGER NOT NULL DEFAULT 0,
    effectiveness_score INTEGER NOT NULL DEFAULT 0,
    feedback            TEXT NOT NULL DEFAULT '',
    duration_ms         BIGINT NOT NULL DEFAULT 0,
    skill_scores        JSONB NOT NULL DEFAULT '{}',
    key_failures        JSONB NOT NULL DEFAULT '[]',
    trouble_words       JSONB NOT NULL DEFAULT '[]',
    metadata            JSONB NOT NULL DEFAULT '{}',
    created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_session_results_date ON session_results(session_date DESC);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database. Structured
// fields are stored as JSONB.
type PostgresStore struct {
	db DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a [PostgresStore] on db. The caller is responsible
// for calling [PostgresStore.Migrate] before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("results: migrate: %w", err)
	}
	return nil
}

// Save upserts r.
func (s *PostgresStore) Save(ctx context.Context, r *types.SessionResult) error {
	if err := validate(r); err != nil {
		return err
	}

	skillsJSON, err := json.Marshal(emptyMap(r.SkillScores))
	if err != nil {
		return fmt.Errorf("results: marshal skill_scores: %w", err)
	}
	failuresJSON, err := json.Marshal(emptySlice(r.KeyFailures))
	if err != nil {
		return fmt.Errorf("results: marshal key_failures: %w", err)
	}
	wordsJSON, err := json.Marshal(emptySlice(r.TroubleWords))
	if err != nil {
		return fmt.Errorf("results: marshal trouble_words: %w", err)
	}
	metaJSON, err := json.Marshal(emptyMap(r.Metadata))
	if err != nil {
		return fmt.Errorf("results: marshal metadata: %w", err)
	}

	const query = `
		INSERT INTO session_results (
			id, session_date, scenario, persona_name,
			confidence_score, effectiveness_score, feedback, duration_ms,
			skill_scores, key_failures, trouble_words, metadata
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (id) DO UPDATE SET
			session_date = EXCLUDED.session_date,
			scenario = EXCLUDED.scenario,
			persona_name = EXCLUDED.persona_name,
			confidence_score = EXCLUDED.confidence_score,
			effectiveness_score = EXCLUDED.effectiveness_score,
			feedback = EXCLUDED.feedback,
			duration_ms = EXCLUDED.duration_ms,
			skill_scores = EXCLUDED.skill_scores,
			key_failures = EXCLUDED.key_failures,
			trouble_words = EXCLUDED.trouble_words,
			metadata = EXCLUDED.metadata`

	_, err = s.db.Exec(ctx, query,
		r.ID, r.Date, string(r.Scenario), r.PersonaName,
		r.ConfidenceScore, r.EffectivenessScore, r.Feedback, r.Duration.Milliseconds(),
		skillsJSON, failuresJSON, wordsJSON, metaJSON,
	)
	if err != nil {
		return fmt.Errorf("results: save %q: %w", r.ID, err)
	}
	return nil
}

// Recent returns up to limit results, newest first.
func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]types.SessionResult, error) {
	const base = `
		SELECT id, session_date, scenario, persona_name,
		       confidence_score, effectiveness_score, feedback, duration_ms,
		       skill_scores, key_failures, trouble_words, metadata
		FROM session_results
		ORDER BY session_date DESC`

	var (
		rows pgx.Rows
		err  error
	)
	if limit > 0 {
		rows, err = s.db.Query(ctx, base+` LIMIT $1`, limit)
	} else {
		rows, err = s.db.Query(ctx, base)
	}
	if err != nil {
		return nil, fmt.Errorf("results: recent: %w", err)
	}
	defer rows.Close()

	var out []types.SessionResult
	for rows.Next() {
		var (
			r                                       types.SessionResult
			scenario                                string
			durationMS                              int64
			skillsJSON, failJSON, wordsJSON, metaJSON []byte
		)
		if err := rows.Scan(
			&r.ID, &r.Date, &scenario, &r.PersonaName,
			&r.ConfidenceScore, &r.EffectivenessScore, &r.Feedback, &durationMS,
			&skillsJSON, &failJSON, &wordsJSON, &metaJSON,
		); err != nil {
			return nil, fmt.Errorf("results: recent scan: %w", err)
		}
		r.Scenario = types.ScenarioType(scenario)
		r.Duration = time.Duration(durationMS) * time.Millisecond
		if err := unmarshalFields(&r, skillsJSON, failJSON, wordsJSON, metaJSON); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("results: recent: %w", err)
	}
	return out, nil
}

func unmarshalFields(r *types.SessionResult, skills, failures, words, meta []byte) error {
	fields := []struct {
		name string
		data []byte
		dst  any
	}{
		{"skill_scores", skills, &r.SkillScores},
		{"key_failures", failures, &r.KeyFailures},
		{"trouble_words", words, &r.TroubleWords},
		{"metadata", meta, &r.Metadata},
	}
	for _, f := range fields {
		if len(f.data) == 0 {
			continue
		}
		if err := json.Unmarshal(f.data, f.dst); err != nil {
			return fmt.Errorf("results: unmarshal %s for %q: %w", f.name, r.ID, err)
		}
	}
	return nil
}

// emptySlice returns s, or an empty non-nil slice so JSON encodes [] not null.
func emptySlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// emptyMap returns m, or an empty non-nil map so JSON encodes {} not null.
func emptyMap[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return map[K]V{}
	}
	return m
}
