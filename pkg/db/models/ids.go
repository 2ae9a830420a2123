package models

import "github.com/google/uuid"

// ensureID assigns a v4 id before insert. Postgres has a column default, but
// sqlite test databases do not.
func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}
