package model

import "time"

// ProductUniverse is a curation label that partitions documents. A user only
// sees documents in their allowed universes (§3, §4.5 universe scoping).
// Adapted from the teacher's Vault container concept: a universe plays the
// same "who may see what" role a vault played, generalised from per-user
// ownership to a shared, named partition with an access list.
type ProductUniverse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// UserUniverseAccess grants a user visibility into a universe. Exactly one
// granted universe per user is marked IsDefault.
type UserUniverseAccess struct {
	ID         string `json:"id"`
	UserID     string `json:"userId"`
	UniverseID string `json:"universeId"`
	IsDefault  bool   `json:"isDefault"`
}
