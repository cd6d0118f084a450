package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/clockdesk/clockdesk/internal/model"
)

const syncRunColumns = `id, stream_id, location_id, company_id, triggered_by, outcome,
	total, added, updated, skipped, failed, location_users, agency_users,
	duration_ms, error, finished_at, recorded_at`

// InsertSyncRuns stores run summaries. Runs already stored are ignored, so a
// redelivered stream batch is harmless.
func (r *Repository) InsertSyncRuns(ctx context.Context, runs []*model.SyncRun) error {
	if len(runs) == 0 {
		return nil
	}

	query := `
		INSERT INTO sync_runs (
			id, stream_id, location_id, company_id, triggered_by, outcome,
			total, added, updated, skipped, failed, location_users, agency_users,
			duration_ms, error, finished_at, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, NOW())
		ON CONFLICT (id) DO NOTHING
	`

	batch := &pgx.Batch{}
	for _, run := range runs {
		batch.Queue(query,
			run.ID,
			run.StreamID,
			run.LocationID,
			run.CompanyID,
			run.TriggeredBy,
			run.Outcome,
			run.Total,
			run.Added,
			run.Updated,
			run.Skipped,
			run.Failed,
			run.LocationUsers,
			run.AgencyUsers,
			run.DurationMS,
			run.Error,
			run.FinishedAt,
		)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	for i := range runs {
		if _, err := results.Exec(); err != nil {
			return wrapErr(fmt.Sprintf("failed to insert sync run %d", i), err)
		}
	}
	return nil
}

// ListSyncRuns returns the most recent runs matching f, newest first.
func (r *Repository) ListSyncRuns(ctx context.Context, f model.SyncRunFilter) ([]*model.SyncRun, error) {
	query := `SELECT ` + syncRunColumns + ` FROM sync_runs
		WHERE ($1 = '' OR location_id = $1)
		  AND ($2 = '' OR company_id = $2)
		  AND ($3 = '' OR location_id = $3 OR company_id = $3)
		ORDER BY finished_at DESC, id DESC
		LIMIT $4`

	rows, err := r.pool.Query(ctx, query, f.LocationID, f.CompanyID, f.Tenant, f.Limit)
	if err != nil {
		return nil, wrapErr("failed to list sync runs", err)
	}
	defer rows.Close()

	var runs []*model.SyncRun
	for rows.Next() {
		var run model.SyncRun
		if err := rows.Scan(
			&run.ID,
			&run.StreamID,
			&run.LocationID,
			&run.CompanyID,
			&run.TriggeredBy,
			&run.Outcome,
			&run.Total,
			&run.Added,
			&run.Updated,
			&run.Skipped,
			&run.Failed,
			&run.LocationUsers,
			&run.AgencyUsers,
			&run.DurationMS,
			&run.Error,
			&run.FinishedAt,
			&run.RecordedAt,
		); err != nil {
			return nil, wrapErr("failed to scan sync run", err)
		}
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("failed to iterate sync runs", err)
	}
	return runs, nil
}
