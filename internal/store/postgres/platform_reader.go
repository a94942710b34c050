package postgres

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	dberr "github.com/yoma-network/export-worker/internal/errors"
	"github.com/yoma-network/export-worker/internal/model"
)

// PlatformReader reads export source rows from the platform schemas. All
// access is read-only; those tables are owned by the platform services.
type PlatformReader struct {
	storage *Store
}

func NewPlatformReader(s *Store) *PlatformReader {
	return &PlatformReader{storage: s}
}

var opportunityColumns = []string{
	"o.id",
	"o.title",
	"org.name AS organization",
	`COALESCE((
		SELECT string_agg(c.name, '|' ORDER BY c.name)
		FROM opportunity.opportunity_categories oc
		JOIN lookup.opportunity_category c ON c.id = oc.category_id
		WHERE oc.opportunity_id = o.id
	), '') AS categories`,
	"o.status",
	"COALESCE(o.zlto_reward, 0) AS zlto_reward",
	"o.participant_count",
	"o.date_start",
	"o.date_end",
}

func (r *PlatformReader) ListOpportunities(ctx context.Context, filter model.OpportunityExportFilter) ([]model.OpportunityRecord, error) {
	const where = "list_opportunities"

	db, err := r.storage.Database()
	if err != nil {
		return nil, dberr.NewDBInternalError(where, err)
	}

	psql := sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	builder := psql.
		Select(opportunityColumns...).
		From("opportunity.opportunity o").
		Join("entity.organization org ON org.id = o.organization_id").
		OrderBy("o.title ASC")

	builder = applyOpportunityFilter(builder, filter)

	sqlStr, args, err := builder.ToSql()
	if err != nil {
		return nil, dberr.NewDBInternalError(where, err)
	}

	rows, err := db.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, dberr.NewDBInternalError(where, err)
	}
	defer rows.Close()

	var records []model.OpportunityRecord
	for rows.Next() {
		var rec model.OpportunityRecord
		err := rows.Scan(
			&rec.ID,
			&rec.Title,
			&rec.Organization,
			&rec.Categories,
			&rec.Status,
			&rec.ZltoReward,
			&rec.ParticipantCount,
			&rec.DateStart,
			&rec.DateEnd,
		)
		if err != nil {
			return nil, dberr.NewDBInternalError(where, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, dberr.NewDBInternalError(where, err)
	}

	return records, nil
}

func (r *PlatformReader) ListVerifications(ctx context.Context, filter model.VerificationExportFilter) ([]model.VerificationRecord, error) {
	const where = "list_verifications"

	db, err := r.storage.Database()
	if err != nil {
		return nil, dberr.NewDBInternalError(where, err)
	}

	psql := sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	builder := psql.
		Select(
			"mo.id",
			"o.title AS opportunity_title",
			"u.display_name AS user_display_name",
			"u.email AS user_email",
			"mo.verification_status",
			"COALESCE(mo.zlto_reward, 0) AS zlto_amount",
			"mo.date_completed",
		).
		From("opportunity.my_opportunity mo").
		Join("opportunity.opportunity o ON o.id = mo.opportunity_id").
		Join(`entity."user" u ON u.id = mo.user_id`).
		Where(sq.Eq{"mo.action": "Verification"}).
		OrderBy("mo.date_modified ASC")

	builder = applyVerificationFilter(builder, filter)

	sqlStr, args, err := builder.ToSql()
	if err != nil {
		return nil, dberr.NewDBInternalError(where, err)
	}

	rows, err := db.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, dberr.NewDBInternalError(where, err)
	}
	defer rows.Close()

	var records []model.VerificationRecord
	for rows.Next() {
		var rec model.VerificationRecord
		err := rows.Scan(
			&rec.ID,
			&rec.OpportunityTitle,
			&rec.UserDisplayName,
			&rec.UserEmail,
			&rec.Status,
			&rec.ZltoAmount,
			&rec.DateCompleted,
		)
		if err != nil {
			return nil, dberr.NewDBInternalError(where, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, dberr.NewDBInternalError(where, err)
	}

	return records, nil
}

func (r *PlatformReader) ListVerificationFiles(ctx context.Context, filter model.VerificationExportFilter) ([]uuid.UUID, error) {
	const where = "list_verification_files"

	db, err := r.storage.Database()
	if err != nil {
		return nil, dberr.NewDBInternalError(where, err)
	}

	psql := sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	builder := psql.
		Select("v.file_id").
		From("opportunity.my_opportunity_verifications v").
		Join("opportunity.my_opportunity mo ON mo.id = v.my_opportunity_id").
		Where(sq.Eq{"mo.action": "Verification"}).
		Where(sq.NotEq{"v.file_id": nil}).
		OrderBy("mo.date_modified ASC")

	builder = applyVerificationFilter(builder, filter)
	if len(filter.FileIDs) > 0 {
		builder = builder.Where(sq.Eq{"v.file_id": filter.FileIDs})
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

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, dberr.NewDBInternalError(where, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, dberr.NewDBInternalError(where, err)
	}

	return ids, nil
}

// Filter dates arrive as Unix milliseconds.
func applyOpportunityFilter(builder sq.SelectBuilder, filter model.OpportunityExportFilter) sq.SelectBuilder {
	if len(filter.Organizations) > 0 {
		builder = builder.Where(sq.Eq{"o.organization_id": filter.Organizations})
	}
	if len(filter.Categories) > 0 {
		builder = builder.Where(`EXISTS (
			SELECT 1 FROM opportunity.opportunity_categories oc
			WHERE oc.opportunity_id = o.id AND oc.category_id = ANY(?)
		)`, filter.Categories)
	}
	if filter.Status != "" {
		builder = builder.Where(sq.Eq{"o.status": filter.Status})
	}
	if filter.StartDate > 0 {
		builder = builder.Where(sq.GtOrEq{"o.date_start": time.UnixMilli(filter.StartDate)})
	}
	if filter.EndDate > 0 {
		builder = builder.Where(sq.LtOrEq{"o.date_start": time.UnixMilli(filter.EndDate)})
	}
	if filter.ValueContains != "" {
		builder = builder.Where(sq.ILike{"o.title": "%" + filter.ValueContains + "%"})
	}
	return builder
}

func applyVerificationFilter(builder sq.SelectBuilder, filter model.VerificationExportFilter) sq.SelectBuilder {
	if len(filter.Opportunities) > 0 {
		builder = builder.Where(sq.Eq{"mo.opportunity_id": filter.Opportunities})
	}
	if filter.VerificationStatus != "" {
		builder = builder.Where(sq.Eq{"mo.verification_status": filter.VerificationStatus})
	}
	if filter.StartDate > 0 {
		builder = builder.Where(sq.GtOrEq{"mo.date_modified": time.UnixMilli(filter.StartDate)})
	}
	if filter.EndDate > 0 {
		builder = builder.Where(sq.LtOrEq{"mo.date_modified": time.UnixMilli(filter.EndDate)})
	}
	return builder
}
