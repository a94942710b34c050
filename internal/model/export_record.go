package model

import (
	"time"

	"github.com/google/uuid"
)

// OpportunityRecord is one row of the opportunities worksheet, read from the
// platform database.
type OpportunityRecord struct {
	ID               uuid.UUID  `db:"id"`
	Title            string     `db:"title"`
	Organization     string     `db:"organization"`
	Categories       string     `db:"categories"`
	Status           string     `db:"status"`
	ZltoReward       float64    `db:"zlto_reward"`
	ParticipantCount int        `db:"participant_count"`
	DateStart        time.Time  `db:"date_start"`
	DateEnd          *time.Time `db:"date_end"`
}

// VerificationRecord is one row of the verifications worksheet.
type VerificationRecord struct {
	ID               uuid.UUID  `db:"id"`
	OpportunityTitle string     `db:"opportunity_title"`
	UserDisplayName  string     `db:"user_display_name"`
	UserEmail        string     `db:"user_email"`
	Status           string     `db:"status"`
	ZltoAmount       float64    `db:"zlto_amount"`
	DateCompleted    *time.Time `db:"date_completed"`
}
