package types

import "time"

// IdempotencyKey stores a previously returned response for request replay
// protection at the HTTP surface
type IdempotencyKey struct {
	ID                 string    `db:"id" json:"id"`
	Key                string    `db:"key" json:"key"`
	RequestHash        string    `db:"request_hash" json:"request_hash"`
	ResponseStatusCode int       `db:"response_status_code" json:"response_status_code"`
	ResponseBody       []byte    `db:"response_body" json:"response_body"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
	ExpiresAt          time.Time `db:"expires_at" json:"expires_at"`
}
