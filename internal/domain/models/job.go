package models

import (
	"encoding/json"
	"time"
)

// Job is a durable one-shot timer: a stable id, a target timestamp, a handler
// key and JSON arguments. Jobs survive restarts; due and overdue jobs are
// fired on startup.
type Job struct {
	ID        string
	RunAt     time.Time
	Handler   string
	Args      json.RawMessage
	CreatedAt time.Time
}

// JobArgs is the argument payload for the subscription lifecycle handlers.
type JobArgs struct {
	SubID int64 `json:"sub_id"`
}
