package pty

import "errors"

var (
	// ErrNotFound is returned when no live session is registered under an id.
	ErrNotFound = errors.New("pty: session not found")

	// ErrExists is returned by Spawn when the id is already registered.
	ErrExists = errors.New("pty: session already exists")

	// ErrClosed is returned once the manager has been closed.
	ErrClosed = errors.New("pty: manager is closed")

	// ErrEmptyCommand is returned when no program is configured.
	ErrEmptyCommand = errors.New("pty: command must not be empty")
)
