package data

import (
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

// Shared sentinel errors for data-layer repositories.
var (
	// ErrJobNotFound is returned when a delivery job is not found.
	ErrJobNotFound = errors.New("delivery job not found")
	// ErrCampaignNotFound is returned when a campaign is not found.
	ErrCampaignNotFound = errors.New("campaign not found")
	// ErrCampaignExists is returned when creating a campaign whose id is already taken.
	ErrCampaignExists = errors.New("campaign already exists")
	// ErrSequenceNotFound is returned when a sequence definition or instance is not found.
	ErrSequenceNotFound = errors.New("sequence not found")
	// ErrNotFound is returned when a directory record is not found.
	ErrNotFound = errors.New("not found")
)

// IsUniqueViolation reports whether err is a PostgreSQL unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
