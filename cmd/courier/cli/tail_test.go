// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFilterFile(t *testing.T) {
	t.Run("empty path means no filter", func(t *testing.T) {
		filter, err := loadFilterFile("")
		if err != nil {
			t.Fatalf("loadFilterFile: %v", err)
		}
		if filter != "" {
			t.Errorf("filter = %q, want empty", filter)
		}
	})

	t.Run("strips comments and trailing commas", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "filter.jsonc")
		content := `{
	// Only room messages, keep payloads small.
	"room": {
		"timeline": {
			"types": ["m.room.message"],
			"limit": 10, // per-room cap
		},
	},
}`
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}

		filter, err := loadFilterFile(path)
		if err != nil {
			t.Fatalf("loadFilterFile: %v", err)
		}
		if !json.Valid([]byte(filter)) {
			t.Fatalf("normalized filter is not valid JSON: %q", filter)
		}

		var parsed struct {
			Room struct {
				Timeline struct {
					Types []string `json:"types"`
					Limit int      `json:"limit"`
				} `json:"timeline"`
			} `json:"room"`
		}
		if err := json.Unmarshal([]byte(filter), &parsed); err != nil {
			t.Fatalf("parsing normalized filter: %v", err)
		}
		if len(parsed.Room.Timeline.Types) != 1 || parsed.Room.Timeline.Types[0] != "m.room.message" {
			t.Errorf("timeline types = %v, want [m.room.message]", parsed.Room.Timeline.Types)
		}
		if parsed.Room.Timeline.Limit != 10 {
			t.Errorf("timeline limit = %d, want 10", parsed.Room.Timeline.Limit)
		}
	})

	t.Run("rejects invalid content", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "filter.json")
		if err := os.WriteFile(path, []byte("not a filter"), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := loadFilterFile(path); err == nil {
			t.Fatal("expected error for invalid filter content")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := loadFilterFile(filepath.Join(t.TempDir(), "absent.json")); err == nil {
			t.Fatal("expected error for missing filter file")
		}
	})
}
