// this file defines the data structures to be used throughout
package main

// User is an entry of the admission record. Only users who logged in may
// join the room.
type User struct {
	UserID    string `json:"user_id" db:"user_id" form:"user_id"`
	FirstName string `json:"firstname" db:"firstname" form:"firstname"`
	LastName  string `json:"lastname" db:"lastname" form:"lastname"`
	Email     string `json:"email" db:"email" form:"email"`
}

// Play is one track handed to the player.
type Play struct {
	PlayID      int64  `json:"play_id" db:"play_id"`
	TrackID     string `json:"track_id" db:"track_id"`
	TrackURI    string `json:"track_uri" db:"track_uri"`
	TrackName   string `json:"track_name" db:"track_name"`
	SubmittedBy string `json:"submitted_by" db:"submitted_by"`
	StartedAt   int64  `json:"started_at" db:"started_at"` // unix millis
}
