package app

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/yoma-network/export-worker/internal/errors"
	"github.com/yoma-network/export-worker/internal/model"
)

// OpportunityReader supplies opportunity rows for export. The platform
// database behind it is owned by another service.
type OpportunityReader interface {
	ListOpportunities(ctx context.Context, filter model.OpportunityExportFilter) ([]model.OpportunityRecord, error)
}

// VerificationReader supplies verification rows and the blob ids of their
// attached files.
type VerificationReader interface {
	ListVerifications(ctx context.Context, filter model.VerificationExportFilter) ([]model.VerificationRecord, error)
	ListVerificationFiles(ctx context.Context, filter model.VerificationExportFilter) ([]uuid.UUID, error)
}

// Exporter turns one schedule row into the file to publish. The processor
// wraps the result in a zip before uploading.
type Exporter func(ctx context.Context, schedule *model.DownloadSchedule) (*model.FileHandle, error)

// ExporterSet holds one exporter per schedule type.
type ExporterSet struct {
	exporters map[model.ScheduleType]Exporter
}

func NewExporterSet(opportunities OpportunityReader, verifications VerificationReader, blobs *BlobService) *ExporterSet {
	s := &ExporterSet{exporters: make(map[model.ScheduleType]Exporter)}
	s.exporters[model.ScheduleTypeOpportunities] = exportOpportunities(opportunities)
	s.exporters[model.ScheduleTypeMyOpportunityVerification] = exportVerifications(verifications)
	s.exporters[model.ScheduleTypeVerificationFiles] = exportVerificationFiles(verifications, blobs)
	return s
}

// Resolve returns the exporter for scheduleType or a not-implemented error.
func (s *ExporterSet) Resolve(scheduleType model.ScheduleType) (Exporter, error) {
	exporter, ok := s.exporters[scheduleType]
	if !ok {
		return nil, errors.NotImplemented(fmt.Sprintf("no exporter registered for schedule type %q", scheduleType))
	}
	return exporter, nil
}

func exportOpportunities(reader OpportunityReader) Exporter {
	return func(ctx context.Context, schedule *model.DownloadSchedule) (*model.FileHandle, error) {
		var filter model.OpportunityExportFilter
		if err := json.Unmarshal([]byte(schedule.Filter), &filter); err != nil {
			return nil, errors.InvalidArgument("stored filter is not a valid opportunity filter", errors.WithCause(err))
		}
		records, err := reader.ListOpportunities(ctx, filter)
		if err != nil {
			return nil, err
		}

		rows := make([][]string, 0, len(records)+1)
		rows = append(rows, []string{"Id", "Title", "Organization", "Categories", "Status", "ZltoReward", "ParticipantCount", "DateStart", "DateEnd"})
		for _, r := range records {
			rows = append(rows, []string{
				r.ID.String(),
				r.Title,
				r.Organization,
				r.Categories,
				r.Status,
				strconv.FormatFloat(r.ZltoReward, 'f', 2, 64),
				strconv.Itoa(r.ParticipantCount),
				r.DateStart.UTC().Format(time.RFC3339),
				formatOptionalTime(r.DateEnd),
			})
		}
		return buildCSV("Opportunities.csv", rows)
	}
}

func exportVerifications(reader VerificationReader) Exporter {
	return func(ctx context.Context, schedule *model.DownloadSchedule) (*model.FileHandle, error) {
		var filter model.VerificationExportFilter
		if err := json.Unmarshal([]byte(schedule.Filter), &filter); err != nil {
			return nil, errors.InvalidArgument("stored filter is not a valid verification filter", errors.WithCause(err))
		}
		records, err := reader.ListVerifications(ctx, filter)
		if err != nil {
			return nil, err
		}

		rows := make([][]string, 0, len(records)+1)
		rows = append(rows, []string{"Id", "Opportunity", "User", "Email", "Status", "ZltoAmount", "DateCompleted"})
		for _, r := range records {
			rows = append(rows, []string{
				r.ID.String(),
				r.OpportunityTitle,
				r.UserDisplayName,
				r.UserEmail,
				r.Status,
				strconv.FormatFloat(r.ZltoAmount, 'f', 2, 64),
				formatOptionalTime(r.DateCompleted),
			})
		}
		return buildCSV("MyOpportunityVerifications.csv", rows)
	}
}

// exportVerificationFiles bundles the raw verification attachments. Missing
// blobs are skipped rather than failing the whole export.
func exportVerificationFiles(reader VerificationReader, blobs *BlobService) Exporter {
	return func(ctx context.Context, schedule *model.DownloadSchedule) (*model.FileHandle, error) {
		var filter model.VerificationExportFilter
		if err := json.Unmarshal([]byte(schedule.Filter), &filter); err != nil {
			return nil, errors.InvalidArgument("stored filter is not a valid verification filter", errors.WithCause(err))
		}
		ids, err := reader.ListVerificationFiles(ctx, filter)
		if err != nil {
			return nil, err
		}

		entries := make([]zipEntry, 0, len(ids))
		seen := make(map[string]int)
		for _, id := range ids {
			_, file, err := blobs.Download(ctx, id)
			if err != nil {
				if errors.IsNotFound(err) {
					continue
				}
				return nil, err
			}
			name := file.FileName
			if name == "" {
				name = id.String()
			}
			// Disambiguate duplicate names inside the archive.
			seen[name]++
			if n := seen[name]; n > 1 {
				name = fmt.Sprintf("%d_%s", n, name)
			}
			entries = append(entries, zipEntry{Name: name, Data: file.Data})
		}
		if len(entries) == 0 {
			return nil, errors.InvalidArgument("no verification files matched the filter")
		}
		return buildZip("VerificationFiles.zip", entries)
	}
}

func buildCSV(fileName string, rows [][]string) (*model.FileHandle, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(rows); err != nil {
		return nil, errors.Internal("could not write worksheet", errors.WithCause(err))
	}
	return &model.FileHandle{
		FileName:    fileName,
		ContentType: "text/csv",
		Data:        buf.Bytes(),
	}, nil
}

type zipEntry struct {
	Name string
	Data []byte
}

func buildZip(fileName string, entries []zipEntry) (*model.FileHandle, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, entry := range entries {
		w, err := zw.Create(entry.Name)
		if err != nil {
			return nil, errors.Internal("could not add archive entry", errors.WithCause(err))
		}
		if _, err := w.Write(entry.Data); err != nil {
			return nil, errors.Internal("could not write archive entry", errors.WithCause(err))
		}
	}
	if err := zw.Close(); err != nil {
		return nil, errors.Internal("could not finalize archive", errors.WithCause(err))
	}
	return &model.FileHandle{
		FileName:    fileName,
		ContentType: "application/zip",
		Data:        buf.Bytes(),
	}, nil
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
