package notify

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// PGProfiles resolves display names and contact addresses from the
// marketplace's profiles table.
type PGProfiles struct {
	db *sql.DB
}

// NewPGProfiles creates a profile lookup backed by the given database handle.
func NewPGProfiles(db *sql.DB) *PGProfiles {
	return &PGProfiles{db: db}
}

// Profile returns the user's display name and email. An unknown user yields
// empty values and no error: the dispatcher treats it as "no known address".
func (p *PGProfiles) Profile(ctx context.Context, userID string) (string, string, error) {
	const query = `
		SELECT first_name, last_name, email
		FROM profiles
		WHERE user_id = $1`

	var first, last, email string
	err := p.db.QueryRowContext(ctx, query, userID).Scan(&first, &last, &email)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", nil
	}
	if err != nil {
		return "", "", fmt.Errorf("notify: profile %s: %w", userID, err)
	}

	name := strings.TrimSpace(first + " " + last)
	return name, email, nil
}
