package model

import "github.com/google/uuid"

// OpportunityExportFilter narrows the opportunity CSV export. Zero values mean
// "no restriction" for that field.
type OpportunityExportFilter struct {
	Organizations []uuid.UUID `json:"organizations,omitempty"`
	Categories    []uuid.UUID `json:"categories,omitempty"`
	Status        string      `json:"status,omitempty"`
	// StartDate / EndDate are Unix milliseconds bounding the opportunity window.
	StartDate     int64  `json:"startDate,omitempty"`
	EndDate       int64  `json:"endDate,omitempty"`
	ValueContains string `json:"valueContains,omitempty"`
}

// VerificationExportFilter narrows the my-opportunity verification exports,
// both the CSV worksheet and the verification-file bundle.
type VerificationExportFilter struct {
	Opportunities      []uuid.UUID `json:"opportunities,omitempty"`
	VerificationStatus string      `json:"verificationStatus,omitempty"`
	// StartDate / EndDate are Unix milliseconds bounding the completion window.
	StartDate int64 `json:"startDate,omitempty"`
	EndDate   int64 `json:"endDate,omitempty"`
	// FileIDs limits a verification-file bundle to the listed blobs.
	FileIDs []uuid.UUID `json:"fileIds,omitempty"`
}
