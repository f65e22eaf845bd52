// Package quill defines the request/response types for quill IPC.
// Messages are JSON-encoded and sent over a Unix domain socket, one per line.
package quill

// Panel commands.
const (
	CommandGenerate = "generate"
	CommandRetry    = "retry"
	CommandDeploy   = "deploy"
	CommandState    = "state"

	// Replies. Exactly one of these answers every panel command.
	CommandDisplayOutput = "displayOutput"
	CommandError         = "error"
)

// Completion trigger types.
const (
	TypeInline   = "inline"
	TypeDropdown = "dropdown"
)

// CommandRequest is sent from the panel to run generate, retry or deploy.
type CommandRequest struct {
	// Command is one of "generate", "retry", "deploy" or "state".
	Command string `json:"command"`
	// SessionID identifies the panel. Each panel owns one command state machine.
	SessionID string `json:"session_id,omitempty"`
	// Purpose is the contract category selected in the panel.
	Purpose string `json:"purpose,omitempty"`
	// Type is the contract type (e.g. "stateful", "stateless").
	Type string `json:"type,omitempty"`
	// Lang is the target contract language (e.g. "pyteal", "teal").
	Lang string `json:"lang,omitempty"`
	// Chat is the free-form description typed by the user.
	Chat string `json:"chat,omitempty"`
	// Output is the previously generated artifact (retry only).
	Output string `json:"output,omitempty"`
	// Code is the artifact to deploy, verbatim (deploy only).
	Code string `json:"code,omitempty"`
	// ContractType is the deploy-time contract type (deploy only).
	ContractType string `json:"contractType,omitempty"`
}

// Controls reports which panel buttons may be used.
type Controls struct {
	Generate bool `json:"generate"`
	Retry    bool `json:"retry"`
	Deploy   bool `json:"deploy"`
}

// CommandResponse is sent back to the panel.
type CommandResponse struct {
	// Command is "displayOutput" or "error".
	Command string `json:"command"`
	// Output is the artifact or deploy result (displayOutput only).
	Output string `json:"output,omitempty"`
	// Error is the failure text, verbatim (error only).
	Error string `json:"error,omitempty"`
	// State is the command state after the reply ("idle", "loading", "success", "failed").
	State string `json:"state,omitempty"`
	// Controls mirrors State as enabled buttons.
	Controls *Controls `json:"controls,omitempty"`
}

// CompletionRequest is sent by the editor when the cursor moves or a trigger key is typed.
type CompletionRequest struct {
	// Type is "inline" or "dropdown".
	Type string `json:"type"`
	// RequestID is a per-session incrementing identifier assigned by the editor.
	// The daemon echoes it back in the response.
	RequestID int `json:"request_id"`
	// SessionID identifies the editor session.
	SessionID string `json:"session_id"`
	// LinePrefix is the current line up to the cursor.
	LinePrefix string `json:"line_prefix"`
	// Prefix is the whole document up to the cursor.
	Prefix string `json:"prefix"`
	// TriggerCharacter is the character that opened the dropdown, if any.
	TriggerCharacter string `json:"trigger_character,omitempty"`
}

// Item is a single ranked dropdown suggestion.
type Item struct {
	// Label is the suggestion text.
	Label string `json:"label"`
	// Index is the position the inference process returned it at.
	Index int `json:"index"`
	// SortText orders items by Index when sorted lexically.
	SortText string `json:"sort_text"`
	// Preselect is true for the first item only.
	Preselect bool `json:"preselect,omitempty"`
}

// CompletionResponse is sent from the daemon back to the editor.
// Superseded requests get no response at all.
type CompletionResponse struct {
	// RequestID is echoed from the request.
	RequestID int `json:"request_id"`
	// Inline is the ghost-text suggestion (inline only, empty means none).
	Inline string `json:"inline,omitempty"`
	// Items is the ranked dropdown list (dropdown only).
	Items []Item `json:"items"`
	// Error is set when the request was malformed.
	Error *Error `json:"error,omitempty"`
}

// Error describes a daemon-side error returned to the client.
type Error struct {
	// Code is a machine-readable error identifier (e.g. "invalid_request", "config_error").
	Code string `json:"code"`
	// Message is a human-readable error description.
	Message string `json:"message"`
}

// ConfigRequest is sent from a client for configuration operations.
type ConfigRequest struct {
	// Action is the config operation: "get", "reload", "defaults", or "validate".
	Action string `json:"action"`
}

// ConfigResponse is sent from the daemon in response to a ConfigRequest.
type ConfigResponse struct {
	// Config is the current configuration (for "get", "reload", and "defaults" actions).
	Config *Config `json:"config,omitempty"`
	// Warnings contains configuration warnings (for "validate" action).
	Warnings []string `json:"warnings,omitempty"`
	// Error is set when the operation fails.
	Error *Error `json:"error,omitempty"`
}
