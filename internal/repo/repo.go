package repo

import (
	"database/sql"
	"errors"
)

// Repo wraps the sqlite handle shared by the store and key lookups.
type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
