package server

import (
	"encoding/json"

	"github.com/alimasry/go-notepad/diff"
	"github.com/alimasry/go-notepad/store"
)

// Message types pushed over WebSocket.
const (
	MsgHello = "hello"
	MsgSaved = "saved"
	MsgError = "error"
)

// ServerMessage is a message from server to a subscribed client.
type ServerMessage struct {
	Type     string `json:"type"`
	ClientID string `json:"clientId,omitempty"`
	Key      string `json:"key,omitempty"`
	Version  int64  `json:"version"`
	Hash     string `json:"hash,omitempty"`
	Message  string `json:"message,omitempty"`
}

// Encode serializes a ServerMessage to JSON bytes.
func (m ServerMessage) Encode() []byte {
	b, _ := json.Marshal(m)
	return b
}

// UpdateRequest is the body of POST /api/content. Changes, when present,
// take precedence over Content.
type UpdateRequest struct {
	Content *string          `json:"content"`
	Changes []diff.Operation `json:"changes"`
	Version *int64           `json:"version"`
}

// DiffRequest is the body of POST /api/calculate_diff.
type DiffRequest struct {
	OldContent string `json:"old_content"`
	NewContent string `json:"new_content"`
}

type contentResponse struct {
	Success  bool           `json:"success"`
	Content  string         `json:"content"`
	Version  int64          `json:"version"`
	FileInfo store.FileInfo `json:"file_info"`
}

type updateResponse struct {
	Success  bool           `json:"success"`
	Message  string         `json:"message"`
	Version  int64          `json:"version"`
	FileInfo store.FileInfo `json:"file_info"`
}

type diffResponse struct {
	Success bool             `json:"success"`
	Changes []diff.Operation `json:"changes"`
}

type fileInfoResponse struct {
	Success  bool           `json:"success"`
	FileInfo store.FileInfo `json:"file_info"`
}

// errorResponse is returned with every non-2xx status. A version conflict
// also carries the current state of the document.
type errorResponse struct {
	Success        bool    `json:"success"`
	Message        string  `json:"message"`
	ErrorType      string  `json:"error_type,omitempty"`
	CurrentVersion *int64  `json:"current_version,omitempty"`
	CurrentContent *string `json:"current_content,omitempty"`
	Retryable      bool    `json:"retryable,omitempty"`
}
