package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	dberr "github.com/yoma-network/export-worker/internal/errors"
	"github.com/yoma-network/export-worker/internal/model"
)

type BlobObject struct {
	storage *Store
}

func (b *BlobObject) Insert(ctx context.Context, obj *model.BlobObject) error {
	db, err := b.storage.Database()
	if err != nil {
		return dberr.NewDBInternalError("insert_blob_object", err)
	}

	query := `
		INSERT INTO export.blob_object
			(id, storage_type, file_type, key, content_type, original_file_name, parent_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = db.Exec(
		ctx,
		query,
		obj.ID,
		obj.StorageType,
		obj.FileType,
		obj.Key,
		obj.ContentType,
		obj.OriginalFileName,
		obj.ParentID,
	)
	if err != nil {
		return mapPgError("insert_blob_object", err)
	}

	return nil
}

func (b *BlobObject) GetByID(ctx context.Context, id uuid.UUID) (*model.BlobObject, error) {
	db, err := b.storage.Database()
	if err != nil {
		return nil, dberr.NewDBInternalError("get_blob_object", err)
	}

	query := `
		SELECT id, storage_type, file_type, key, content_type, original_file_name, parent_id
		FROM export.blob_object
		WHERE id = $1
	`

	var obj model.BlobObject
	err = db.QueryRow(ctx, query, id).Scan(
		&obj.ID,
		&obj.StorageType,
		&obj.FileType,
		&obj.Key,
		&obj.ContentType,
		&obj.OriginalFileName,
		&obj.ParentID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, dberr.NewDBNotFoundError("get_blob_object", "no blob object found for id "+id.String())
		}
		return nil, dberr.NewDBInternalError("get_blob_object", err)
	}

	return &obj, nil
}

func (b *BlobObject) UpdateParent(ctx context.Context, id, parentID uuid.UUID) error {
	db, err := b.storage.Database()
	if err != nil {
		return dberr.NewDBInternalError("update_blob_object_parent", err)
	}

	query := `
		UPDATE export.blob_object
		SET parent_id = $1
		WHERE id = $2
	`

	cmd, err := db.Exec(ctx, query, parentID, id)
	if err != nil {
		return mapPgError("update_blob_object_parent", err)
	}
	if cmd.RowsAffected() == 0 {
		return dberr.NewDBNotFoundError("update_blob_object_parent", "no blob object found for id "+id.String())
	}

	return nil
}

func (b *BlobObject) Delete(ctx context.Context, id uuid.UUID) error {
	db, err := b.storage.Database()
	if err != nil {
		return dberr.NewDBInternalError("delete_blob_object", err)
	}

	cmd, err := db.Exec(ctx, `DELETE FROM export.blob_object WHERE id = $1`, id)
	if err != nil {
		return mapPgError("delete_blob_object", err)
	}
	if cmd.RowsAffected() == 0 {
		return dberr.NewDBNotFoundError("delete_blob_object", "no blob object found for id "+id.String())
	}

	return nil
}

// mapPgError translates Postgres constraint violations into the store error
// taxonomy.
func mapPgError(where string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return &dberr.DBUniqueViolationError{
				DBError: *dberr.NewDBError(where, pgErr.Message),
				Column:  pgErr.ConstraintName,
			}
		case "23503": // foreign_key_violation
			return &dberr.DBForeignKeyViolationError{
				DBError:         *dberr.NewDBError(where, pgErr.Message),
				ForeignKeyTable: pgErr.TableName,
			}
		}
	}
	return dberr.NewDBInternalError(where, err)
}
