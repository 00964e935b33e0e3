package core

// # Error Codes Reference
//
// This file defines user-friendly error messages with codes for support
// reference. Users can quote the code to support staff for faster diagnosis.
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large: The uploaded file exceeds the size limit
//	          Action: Split the participant list into smaller files
//	          Patterns: "file too large"
//
//	FILE002 - Invalid CSV: File is not a valid CSV
//	          Action: Check quoting and make sure the file is comma-separated
//	          Patterns: "invalid csv"
//
//	FILE003 - No file: No file was selected
//	          Action: Please select a file to upload
//	          Patterns: "no file provided"
//
//	FILE004 - Empty file: The uploaded file is empty
//	          Action: Please upload a file with data
//	          Patterns: "empty file"
//
//	FILE005 - Unsupported image: Background image format is not supported
//	          Action: Use a PNG, JPEG, GIF, WebP or BMP image
//	          Patterns: "unsupported image"
//
//	FILE006 - Image too large: Background image dimensions are too large
//	          Action: Scale the image down before uploading
//	          Patterns: "image dimensions too large"
//
// # Session Errors (SES001-SES099)
//
//	SES001 - Session expired: Session not found
//	         Action: Reload the page to start a new session
//	         Patterns: "session not found"
//
//	SES002 - Busy: Another operation is running for this session
//	         Action: Wait for the current operation to finish
//	         Patterns: "operation in progress"
//
//	SES003 - Capacity: Too many open sessions
//	         Action: Please try again later
//	         Patterns: "too many sessions"
//
//	SES004 - Unknown theme: The requested theme does not exist
//	         Action: Pick one of the listed themes
//	         Patterns: "unknown theme"
//
// # Batch Errors (BAT001-BAT099)
//
//	BAT001 - No data: Nothing to process
//	         Action: Upload a CSV file and generate cards first
//	         Patterns: "no data"
//
//	BAT002 - System busy: Too many batches in progress
//	         Action: Please wait a moment and try again
//	         Patterns: "too many batches"
//
//	BAT003 - Timeout: The operation timed out
//	         Action: Try a smaller participant list
//	         Patterns: "context deadline exceeded"
//
//	BAT004 - Cancelled: The operation was cancelled
//	         Action: Please try again
//	         Patterns: "context canceled"
//
// # Export Errors (EXP001-EXP099)
//
//	EXP001 - Empty archive: No card could be rendered
//	         Action: Regenerate the cards and export again
//	         Patterns: "archive is empty"
//
//	EXP002 - No archive: Nothing has been exported yet
//	         Action: Export the cards before downloading
//	         Patterns: "no archive available"
//
// # Rate Limiting (RATE001-RATE099)
//
//	RATE001 - Rate limited: Too many requests
//	          Action: Please wait a moment before trying again
//	          Patterns: "rate limit"
//
// # Default Error (ERR000)
//
//	ERR000 - Unknown error: An unexpected error occurred
//	         Action: Please try again or contact support
//
// Patterns are matched case-insensitively using strings.Contains. The first
// matching pattern wins.

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error patterns (case-insensitive) to user
// messages. Order matters: specific patterns come before general ones.
var errorPatterns = []errorPattern{
	// File errors
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "The uploaded file exceeds the size limit",
			Action:  "Split the participant list into smaller files",
			Code:    "FILE001",
		},
	},
	{
		pattern: "invalid csv",
		msg: UserMessage{
			Message: "File is not a valid CSV",
			Action:  "Check quoting and make sure the file is comma-separated",
			Code:    "FILE002",
		},
	},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Please select a file to upload",
			Code:    "FILE003",
		},
	},
	{
		pattern: "empty file",
		msg: UserMessage{
			Message: "The uploaded file is empty",
			Action:  "Please upload a file with data",
			Code:    "FILE004",
		},
	},
	{
		pattern: "unsupported image",
		msg: UserMessage{
			Message: "Background image format is not supported",
			Action:  "Use a PNG, JPEG, GIF, WebP or BMP image",
			Code:    "FILE005",
		},
	},
	{
		pattern: "image dimensions too large",
		msg: UserMessage{
			Message: "Background image dimensions are too large",
			Action:  "Scale the image down before uploading",
			Code:    "FILE006",
		},
	},

	// Session errors
	{
		pattern: "session not found",
		msg: UserMessage{
			Message: "Session not found",
			Action:  "Reload the page to start a new session",
			Code:    "SES001",
		},
	},
	{
		pattern: "operation in progress",
		msg: UserMessage{
			Message: "Another operation is running for this session",
			Action:  "Wait for the current operation to finish",
			Code:    "SES002",
		},
	},
	{
		pattern: "too many sessions",
		msg: UserMessage{
			Message: "Too many open sessions",
			Action:  "Please try again later",
			Code:    "SES003",
		},
	},
	{
		pattern: "unknown theme",
		msg: UserMessage{
			Message: "The requested theme does not exist",
			Action:  "Pick one of the listed themes",
			Code:    "SES004",
		},
	},

	// Export errors come before batch errors: an export failure message
	// may wrap a batch cause.
	{
		pattern: "archive is empty",
		msg: UserMessage{
			Message: "No card could be rendered",
			Action:  "Regenerate the cards and export again",
			Code:    "EXP001",
		},
	},
	{
		pattern: "no archive available",
		msg: UserMessage{
			Message: "Nothing has been exported yet",
			Action:  "Export the cards before downloading",
			Code:    "EXP002",
		},
	},

	// Batch errors
	{
		pattern: "no data",
		msg: UserMessage{
			Message: "Nothing to process",
			Action:  "Upload a CSV file and generate cards first",
			Code:    "BAT001",
		},
	},
	{
		pattern: "too many batches",
		msg: UserMessage{
			Message: "System is busy processing other batches",
			Action:  "Please wait a moment and try again",
			Code:    "BAT002",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "The operation timed out",
			Action:  "Try a smaller participant list",
			Code:    "BAT003",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "The operation was cancelled",
			Action:  "Please try again",
			Code:    "BAT004",
		},
	},

	// Rate limiting
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

// defaultMessage is returned when no pattern matches (ERR000). Support staff
// should check application logs for the original technical error.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message. If no
// pattern matches, the ERR000 fallback is returned.
//
// Example:
//
//	msg := MapError(ErrSessionNotFound)
//	// msg.Code == "SES001"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())

	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err matches a known pattern rather than the
// ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error, kept for logging, with the message
// shown to users.
type UserError struct {
	Technical error
	User      UserMessage
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err to a UserError. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
