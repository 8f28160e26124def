package mappings

import (
	"errors"
	"time"
)

// ErrMappingNotFound indicates no account is configured for a key.
var ErrMappingNotFound = errors.New("mappings: account mapping not found")

// AccountMapping links integration keys to ledger accounts.
type AccountMapping struct {
	Module    string
	Key       string
	AccountID int64
	CreatedAt time.Time
	UpdatedAt time.Time
}
