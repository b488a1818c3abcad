package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/jobscraper/internal/domain"
)

type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS layer_versions (
	layer_name   TEXT        NOT NULL,
	version      INTEGER     NOT NULL,
	kind         TEXT        NOT NULL,
	bucket       TEXT        NOT NULL,
	object_key   TEXT        NOT NULL,
	sha256       TEXT        NOT NULL,
	size_bytes   BIGINT      NOT NULL,
	platform_tag TEXT        NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (layer_name, version)
);
CREATE TABLE IF NOT EXISTS deployment_events (
	event_id         BIGSERIAL PRIMARY KEY,
	occurred_at      TIMESTAMPTZ NOT NULL,
	deployment_id    TEXT        NOT NULL,
	action           TEXT        NOT NULL,
	resource_type    TEXT        NOT NULL,
	resource_id      TEXT        NOT NULL,
	payload          JSONB       NOT NULL,
	integrity_sha256 TEXT        NOT NULL
);`

type PostgresStore struct {
	db  DB
	now func() time.Time
}

func NewPostgresStore(db DB) *PostgresStore {
	if db == nil {
		return nil
	}
	return &PostgresStore{db: db, now: time.Now}
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("ledger store not initialized")
	}
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure ledger schema: %w", err)
	}
	return nil
}

// RecordLayerVersion appends the next version for layerName. The version
// number is computed in the same statement so concurrent recorders cannot
// reuse one; a primary key conflict surfaces as an error.
func (s *PostgresStore) RecordLayerVersion(ctx context.Context, layerName string, artifact domain.Artifact) (domain.LayerVersion, error) {
	if s == nil || s.db == nil {
		return domain.LayerVersion{}, fmt.Errorf("ledger store not initialized")
	}
	layerName = strings.TrimSpace(layerName)
	if layerName == "" {
		return domain.LayerVersion{}, fmt.Errorf("layer name is required")
	}
	if err := artifact.Validate(); err != nil {
		return domain.LayerVersion{}, err
	}
	createdAt := s.now().UTC()

	var version int
	err := s.db.QueryRowContext(
		ctx,
		`INSERT INTO layer_versions (
			layer_name,
			version,
			kind,
			bucket,
			object_key,
			sha256,
			size_bytes,
			platform_tag,
			created_at
		)
		SELECT $1::text, COALESCE(MAX(version), 0) + 1, $2::text, $3::text, $4::text, $5::text, $6::bigint, $7::text, $8::timestamptz
		FROM layer_versions WHERE layer_name = $1::text
		RETURNING version`,
		layerName,
		artifact.Kind,
		strings.TrimSpace(artifact.Bucket),
		strings.TrimSpace(artifact.ObjectKey),
		strings.TrimSpace(artifact.SHA256),
		artifact.SizeBytes,
		strings.TrimSpace(artifact.PlatformTag),
		createdAt,
	).Scan(&version)
	if err != nil {
		return domain.LayerVersion{}, fmt.Errorf("insert layer version: %w", err)
	}
	return domain.LayerVersion{
		LayerName: layerName,
		Version:   version,
		Artifact:  artifact,
		CreatedAt: createdAt,
	}, nil
}

func (s *PostgresStore) CurrentLayerVersion(ctx context.Context, layerName string) (domain.LayerVersion, error) {
	if s == nil || s.db == nil {
		return domain.LayerVersion{}, fmt.Errorf("ledger store not initialized")
	}
	layerName = strings.TrimSpace(layerName)
	if layerName == "" {
		return domain.LayerVersion{}, fmt.Errorf("layer name is required")
	}

	out := domain.LayerVersion{LayerName: layerName}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT version, kind, bucket, object_key, sha256, size_bytes, platform_tag, created_at
		 FROM layer_versions
		 WHERE layer_name = $1
		 ORDER BY version DESC
		 LIMIT 1`,
		layerName,
	)
	a := &out.Artifact
	if err := row.Scan(&out.Version, &a.Kind, &a.Bucket, &a.ObjectKey, &a.SHA256, &a.SizeBytes, &a.PlatformTag, &out.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.LayerVersion{}, ErrNotFound
		}
		return domain.LayerVersion{}, fmt.Errorf("select layer version: %w", err)
	}
	a.Name = layerName
	a.CreatedAt = out.CreatedAt.UTC()
	out.CreatedAt = out.CreatedAt.UTC()
	return out, nil
}

func (s *PostgresStore) RecordEvent(ctx context.Context, event Event) (Event, error) {
	if s == nil || s.db == nil {
		return Event{}, fmt.Errorf("ledger store not initialized")
	}
	event, payload, err := prepareEvent(event, s.now)
	if err != nil {
		return Event{}, err
	}

	err = s.db.QueryRowContext(
		ctx,
		`INSERT INTO deployment_events (
			occurred_at,
			deployment_id,
			action,
			resource_type,
			resource_id,
			payload,
			integrity_sha256
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING event_id`,
		event.OccurredAt.UTC(),
		strings.TrimSpace(event.DeploymentID),
		strings.TrimSpace(event.Action),
		strings.TrimSpace(event.ResourceType),
		strings.TrimSpace(event.ResourceID),
		payload,
		event.Integrity,
	).Scan(&event.ID)
	if err != nil {
		return Event{}, fmt.Errorf("insert deployment event: %w", err)
	}
	return event, nil
}
