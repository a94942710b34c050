package model

import "github.com/google/uuid"

// StorageType selects the backend that owns the physical bytes of a blob.
type StorageType string

const (
	StorageTypeS3         StorageType = "s3"
	StorageTypeFileSystem StorageType = "filesystem"
	StorageTypeMemory     StorageType = "memory"
)

// FileType is the logical category of a blob. It namespaces storage keys and
// selects the validation policy applied on upload.
type FileType string

const (
	FileTypePhoto        FileType = "photos"
	FileTypeCertificate  FileType = "certificates"
	FileTypeDocument     FileType = "documents"
	FileTypeVoiceNote    FileType = "voicenotes"
	FileTypeVideo        FileType = "videos"
	FileTypeZipArchive   FileType = "zips"
	FileTypeCSVWorksheet FileType = "csvworksheets"
)

// BlobObject is one row of the blob ledger. Key is immutable after creation;
// only ParentID changes, when the object is archived in favor of a replacement.
type BlobObject struct {
	ID               uuid.UUID   `db:"id"`
	StorageType      StorageType `db:"storage_type"`
	FileType         FileType    `db:"file_type"`
	Key              string      `db:"key"`
	ContentType      string      `db:"content_type"`
	OriginalFileName string      `db:"original_file_name"`
	ParentID         *uuid.UUID  `db:"parent_id"`
}

// FileHandle is a file produced by an exporter or returned by a blob
// download. When Path is set the bytes are already staged on disk and uploads
// prefer streaming the file over buffering Data.
type FileHandle struct {
	FileName    string
	ContentType string
	Data        []byte
	Path        string
}
