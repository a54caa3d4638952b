package models

import "time"

// RejectionEntry is one failed device API attempt, kept for audit.
type RejectionEntry struct {
	Timestamp time.Time `json:"ts"`
	Address   string    `json:"host"`
	Method    string    `json:"method"`
	Path      string    `json:"path"`
	Status    string    `json:"status"` // HTTP status code, or NETWORK
	Message   string    `json:"msg"`
	Attempt   int       `json:"attempt"`
}
