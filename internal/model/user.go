package model

import "time"

// User is referenced by foreign key from Conversation and MessageRating.
// Authentication and profile management are out of scope (§1 Non-goals);
// this is the minimal shape the retrieval/orchestration core needs.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}
