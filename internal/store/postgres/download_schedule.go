package postgres

import (
	"context"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	dberr "github.com/yoma-network/export-worker/internal/errors"
	"github.com/yoma-network/export-worker/internal/model"
)

type DownloadSchedule struct {
	storage *Store
}

var scheduleColumns = []string{
	"id",
	"user_id",
	"type",
	"filter",
	"filter_hash",
	"status",
	"file_id",
	"file_storage_type",
	"file_key",
	"error_reason",
	"retry_count",
	"date_created",
	"date_modified",
}

func (d *DownloadSchedule) Insert(ctx context.Context, item *model.DownloadSchedule) error {
	db, err := d.storage.Database()
	if err != nil {
		return dberr.NewDBInternalError("insert_download_schedule", err)
	}

	query := `
		INSERT INTO export.download_schedule
			(id, user_id, type, filter, filter_hash, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING date_created, date_modified
	`

	err = db.QueryRow(
		ctx,
		query,
		item.ID,
		item.UserID,
		item.Type,
		item.Filter,
		item.FilterHash,
		item.Status,
	).Scan(&item.DateCreated, &item.DateModified)
	if err != nil {
		return mapPgError("insert_download_schedule", err)
	}

	return nil
}

func (d *DownloadSchedule) GetByID(ctx context.Context, id uuid.UUID) (*model.DownloadSchedule, error) {
	return d.getOne(ctx, "get_download_schedule", sq.Eq{"id": id})
}

func (d *DownloadSchedule) FindPending(ctx context.Context, userID uuid.UUID, scheduleType model.ScheduleType, filterHash string) (*model.DownloadSchedule, error) {
	return d.getOne(ctx, "find_pending_download_schedule", sq.Eq{
		"user_id":     userID,
		"type":        scheduleType,
		"filter_hash": filterHash,
		"status":      model.ScheduleStatusPending,
	})
}

func (d *DownloadSchedule) getOne(ctx context.Context, where string, pred any) (*model.DownloadSchedule, error) {
	db, err := d.storage.Database()
	if err != nil {
		return nil, dberr.NewDBInternalError(where, err)
	}

	psql := sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	sqlStr, args, err := psql.
		Select(scheduleColumns...).
		From("export.download_schedule").
		Where(pred).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, dberr.NewDBInternalError(where, err)
	}

	var item model.DownloadSchedule
	err = db.QueryRow(ctx, sqlStr, args...).Scan(scheduleScanTargets(&item)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, dberr.NewDBNotFoundError(where, "no download schedule found")
		}
		return nil, dberr.NewDBInternalError(where, err)
	}

	return &item, nil
}

func (d *DownloadSchedule) ListPendingSchedule(ctx context.Context, batchSize int, idsToSkip []uuid.UUID) ([]model.DownloadSchedule, error) {
	return d.list(ctx, "list_pending_schedule", batchSize, idsToSkip, sq.Eq{"status": model.ScheduleStatusPending})
}

func (d *DownloadSchedule) ListPendingDeletion(ctx context.Context, batchSize int, idsToSkip []uuid.UUID, cutoff time.Time) ([]model.DownloadSchedule, error) {
	return d.list(ctx, "list_pending_deletion", batchSize, idsToSkip, sq.And{
		sq.Eq{"status": model.ScheduleStatusProcessed},
		sq.NotEq{"file_id": nil},
		sq.Lt{"date_modified": cutoff},
	})
}

func (d *DownloadSchedule) list(ctx context.Context, where string, batchSize int, idsToSkip []uuid.UUID, pred sq.Sqlizer) ([]model.DownloadSchedule, error) {
	db, err := d.storage.Database()
	if err != nil {
		return nil, dberr.NewDBInternalError(where, err)
	}

	psql := sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	builder := psql.
		Select(scheduleColumns...).
		From("export.download_schedule").
		Where(pred).
		OrderBy("date_modified ASC").
		Limit(uint64(batchSize))
	if len(idsToSkip) > 0 {
		builder = builder.Where(sq.NotEq{"id": idsToSkip})
	}

	sqlStr, args, err := builder.ToSql()
	if err != nil {
		return nil, dberr.NewDBInternalError(where, err)
	}

	rows, err := db.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, dberr.NewDBInternalError(where, err)
	}
	defer rows.Close()

	var items []model.DownloadSchedule
	for rows.Next() {
		var item model.DownloadSchedule
		if err := rows.Scan(scheduleScanTargets(&item)...); err != nil {
			return nil, dberr.NewDBInternalError(where, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, dberr.NewDBInternalError(where, err)
	}

	return items, nil
}

func (d *DownloadSchedule) Update(ctx context.Context, item *model.DownloadSchedule) error {
	db, err := d.storage.Database()
	if err != nil {
		return dberr.NewDBInternalError("update_download_schedule", err)
	}
	return d.update(ctx, db, item)
}

func (d *DownloadSchedule) UpdateBatch(ctx context.Context, items []model.DownloadSchedule) error {
	db, err := d.storage.Database()
	if err != nil {
		return dberr.NewDBInternalError("update_download_schedule", err)
	}
	for i := range items {
		if err := d.update(ctx, db, &items[i]); err != nil {
			return err
		}
	}
	return nil
}

func (d *DownloadSchedule) update(ctx context.Context, db querier, item *model.DownloadSchedule) error {
	query := `
		UPDATE export.download_schedule
		SET status = $1,
		    file_id = $2,
		    file_storage_type = $3,
		    file_key = $4,
		    error_reason = $5,
		    retry_count = $6,
		    date_modified = now()
		WHERE id = $7
		RETURNING date_modified
	`

	err := db.QueryRow(
		ctx,
		query,
		item.Status,
		item.FileID,
		item.FileStorageType,
		item.FileKey,
		item.ErrorReason,
		item.RetryCount,
		item.ID,
	).Scan(&item.DateModified)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return dberr.NewDBNotFoundError("update_download_schedule",
				"no download schedule found for id "+item.ID.String())
		}
		return mapPgError("update_download_schedule", err)
	}

	return nil
}

func scheduleScanTargets(item *model.DownloadSchedule) []any {
	return []any{
		&item.ID,
		&item.UserID,
		&item.Type,
		&item.Filter,
		&item.FilterHash,
		&item.Status,
		&item.FileID,
		&item.FileStorageType,
		&item.FileKey,
		&item.ErrorReason,
		&item.RetryCount,
		&item.DateCreated,
		&item.DateModified,
	}
}
