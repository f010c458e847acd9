// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/courierhq/courier/lib/ref"
	"github.com/courierhq/courier/messaging"
)

// StoredSession is the on-disk form of a login session. Written by
// "courier login" and loaded transparently by every command that needs
// authentication.
type StoredSession struct {
	// UserID is the full Matrix user ID (e.g., "@amy:example.org").
	UserID string `json:"user_id"`

	// DeviceID identifies the device created at login.
	DeviceID string `json:"device_id,omitempty"`

	// AccessToken proves the user's identity to the homeserver.
	AccessToken string `json:"access_token"`

	// Homeserver is the base URL of the Matrix homeserver. Stored so
	// commands reuse the same server the session was created against.
	Homeserver string `json:"homeserver"`
}

// SessionFilePath returns the path to the session file. Checks the
// COURIER_SESSION_FILE environment variable first, then falls back to
// ~/.config/courier/session.json (honoring XDG_CONFIG_HOME).
func SessionFilePath() string {
	if envPath := os.Getenv("COURIER_SESSION_FILE"); envPath != "" {
		return envPath
	}

	configDirectory := os.Getenv("XDG_CONFIG_HOME")
	if configDirectory == "" {
		homeDirectory, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join("/tmp", "courier-session.json")
		}
		configDirectory = filepath.Join(homeDirectory, ".config")
	}
	return filepath.Join(configDirectory, "courier", "session.json")
}

// LoadSession reads the session from the well-known path. Returns a
// clear error directing the user to "courier login" if none exists.
func LoadSession() (*StoredSession, error) {
	return LoadSessionFrom(SessionFilePath())
}

// LoadSessionFrom reads a session from a specific file path.
func LoadSessionFrom(path string) (*StoredSession, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no session found at %s; run \"courier login\" first", path)
		}
		return nil, fmt.Errorf("reading session file %s: %w", path, err)
	}

	var session StoredSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("parsing session file %s: %w", path, err)
	}

	if session.UserID == "" {
		return nil, fmt.Errorf("session file %s has no user_id", path)
	}
	if session.AccessToken == "" {
		return nil, fmt.Errorf("session file %s has no access_token", path)
	}
	if session.Homeserver == "" {
		return nil, fmt.Errorf("session file %s has no homeserver", path)
	}

	return &session, nil
}

// SaveSession writes a session to the well-known path.
func SaveSession(session *StoredSession) error {
	return SaveSessionTo(session, SessionFilePath())
}

// SaveSessionTo writes a session to a specific file path. The parent
// directory is created with mode 0700 if missing; the file itself is
// written with mode 0600 since it contains an access token.
func SaveSessionTo(session *StoredSession, path string) error {
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}
	data = append(data, '\n')

	directory := filepath.Dir(path)
	if err := os.MkdirAll(directory, 0700); err != nil {
		return fmt.Errorf("creating session directory %s: %w", directory, err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing session file %s: %w", path, err)
	}

	return nil
}

// RemoveSession deletes the session file. Missing files are not an error.
func RemoveSession() error {
	path := SessionFilePath()
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing session file %s: %w", path, err)
	}
	return nil
}

// newLogger builds the JSON stderr logger shared by all subcommands.
func newLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
}

// Connect loads the stored session and returns an authenticated client.
// The access token moves from the JSON file into mmap-backed memory;
// the heap copy made while parsing is short-lived.
func Connect() (*messaging.Client, error) {
	session, err := LoadSession()
	if err != nil {
		return nil, err
	}

	userID, err := ref.ParseUserID(session.UserID)
	if err != nil {
		return nil, fmt.Errorf("session file has invalid user_id: %w", err)
	}

	client, err := messaging.NewClient(messaging.ClientConfig{
		HomeserverURL: session.Homeserver,
		Logger:        newLogger(),
	})
	if err != nil {
		return nil, fmt.Errorf("create matrix client: %w", err)
	}

	if err := client.RestoreSession(userID, session.DeviceID, session.AccessToken); err != nil {
		return nil, err
	}
	return client, nil
}
