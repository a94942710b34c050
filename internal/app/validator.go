package app

import (
	"fmt"
	"strings"

	"github.com/h2non/filetype"

	"github.com/yoma-network/export-worker/internal/errors"
	"github.com/yoma-network/export-worker/internal/model"
	"github.com/yoma-network/export-worker/internal/util"
)

// typePolicy is the upload constraint set for one logical file type.
type typePolicy struct {
	maxBytes   int64
	extensions []string
}

var policies = map[model.FileType]typePolicy{
	model.FileTypePhoto:        {maxBytes: 10 << 20, extensions: []string{".png", ".jpg", ".jpeg", ".webp"}},
	model.FileTypeCertificate:  {maxBytes: 10 << 20, extensions: []string{".pdf", ".png", ".jpg", ".jpeg"}},
	model.FileTypeDocument:     {maxBytes: 10 << 20, extensions: []string{".pdf", ".doc", ".docx", ".txt"}},
	model.FileTypeVoiceNote:    {maxBytes: 25 << 20, extensions: []string{".mp3", ".m4a", ".ogg", ".wav"}},
	model.FileTypeVideo:        {maxBytes: 500 << 20, extensions: []string{".mp4", ".mov", ".webm"}},
	model.FileTypeZipArchive:   {maxBytes: 2 << 30, extensions: []string{".zip"}},
	model.FileTypeCSVWorksheet: {maxBytes: 2 << 30, extensions: []string{".csv"}},
}

// FileValidator enforces per-type extension and size policies on uploads.
type FileValidator struct{}

func NewFileValidator() *FileValidator { return &FileValidator{} }

// Validate checks a fully buffered or staged file against the policy for its
// type. When bytes are available the detected type is cross-checked against
// the file name extension.
func (v *FileValidator) Validate(fileType model.FileType, file *model.FileHandle) error {
	if file == nil {
		return errors.InvalidArgument("file is required")
	}
	if strings.TrimSpace(file.FileName) == "" {
		return errors.InvalidArgument("file name is required")
	}
	if len(file.Data) == 0 && file.Path == "" {
		return errors.InvalidArgument("file content is required")
	}

	policy, ok := policies[fileType]
	if !ok {
		return errors.InvalidArgument(fmt.Sprintf("unknown file type: %s", fileType))
	}
	ext := util.GetFileExt(file.FileName, file.ContentType)
	if !extAllowed(policy, ext) {
		return errors.InvalidArgument(fmt.Sprintf("file extension %q is not allowed for %s", ext, fileType))
	}
	if int64(len(file.Data)) > policy.maxBytes {
		return errors.InvalidArgument(fmt.Sprintf("file exceeds the %d byte limit for %s", policy.maxBytes, fileType))
	}

	// Sniff the real type; plain-text formats (csv, txt) have no magic bytes.
	if len(file.Data) > 0 {
		if kind, err := filetype.Match(file.Data); err == nil && kind != filetype.Unknown {
			if !extAllowed(policy, "."+kind.Extension) {
				return errors.InvalidArgument(fmt.Sprintf("file content is %s, not allowed for %s", kind.Extension, fileType))
			}
		}
	}
	return nil
}

// ValidateName checks name and declared length only, for uploads whose bytes
// live remotely and are copied server side.
func (v *FileValidator) ValidateName(fileType model.FileType, fileName string, length int64) error {
	if strings.TrimSpace(fileName) == "" {
		return errors.InvalidArgument("file name is required")
	}
	policy, ok := policies[fileType]
	if !ok {
		return errors.InvalidArgument(fmt.Sprintf("unknown file type: %s", fileType))
	}
	ext := util.GetFileExt(fileName, "")
	if !extAllowed(policy, ext) {
		return errors.InvalidArgument(fmt.Sprintf("file extension %q is not allowed for %s", ext, fileType))
	}
	if length > policy.maxBytes {
		return errors.InvalidArgument(fmt.Sprintf("file exceeds the %d byte limit for %s", policy.maxBytes, fileType))
	}
	return nil
}

func extAllowed(policy typePolicy, ext string) bool {
	ext = strings.ToLower(ext)
	for _, allowed := range policy.extensions {
		if ext == allowed {
			return true
		}
	}
	return false
}
