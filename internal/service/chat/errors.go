package chat

import "errors"

// Recoverable error categories surfaced to the HTTP layer. Not-found uses
// sql.ErrNoRows at the storage boundary like everything else in this repo.
var (
	// ErrUserExists signals a signup reusing an existing username or email.
	ErrUserExists = errors.New("username or email already exists")
	// ErrInvalidCredentials covers both unknown email and hash mismatch so
	// the two cases are indistinguishable to the caller.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrEmptyMessage rejects a blank or whitespace-only chat message.
	ErrEmptyMessage = errors.New("empty message")
)
