package controllers

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/rzbill/maestro/internal/journal"
	"github.com/rzbill/maestro/internal/lifecycle"
)

// Common request/response types for HTTP controllers

var errNegativeDuration = errors.New("duration must not be negative")

// healthResp is the body of /v1/healthz.
type healthResp struct {
	Status string          `json:"status"`
	State  lifecycle.State `json:"state"`
	Error  string          `json:"error,omitempty"`
}

// enqueueReq is a work item to add to a queue.
type enqueueReq struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
	// Delay hides the message for a duration such as "30s".
	Delay string `json:"delay,omitempty"`
}

// enqueueResp describes the stored message.
type enqueueResp struct {
	Queue         string    `json:"queue"`
	MessageID     string    `json:"messageId"`
	InsertedAt    time.Time `json:"insertedAt"`
	NextVisibleAt time.Time `json:"nextVisibleAt"`
}

// queueStatsResp reports a queue's counts.
type queueStatsResp struct {
	Queue     string `json:"queue"`
	Visible   int    `json:"visible"`
	Invisible int    `json:"invisible"`
}

// controlResp is returned by start/stop.
type controlResp struct {
	Replica string             `json:"replica"`
	Local   lifecycle.Snapshot `json:"local"`
	// Reached is set when the request waited for a target state.
	Reached *bool `json:"reached,omitempty"`
}

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

// historyResp is a page of recorded transitions.
type historyResp struct {
	Replica string          `json:"replica"`
	Entries []journal.Entry `json:"entries"`
	Next    uint64          `json:"next,omitempty"`
}
