package db

import (
	"strings"
	"testing"
)

func TestMigrationNames_SortedAndEmbedded(t *testing.T) {
	names, err := migrationNames()
	if err != nil {
		t.Fatalf("migration names: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("expected 2 migrations, got %d (%v)", len(names), names)
	}
	if names[0] != "001_users.sql" || names[1] != "002_messages.sql" {
		t.Fatalf("unexpected order: %v", names)
	}

	b, err := migrationFS.ReadFile("migrations/" + names[1])
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	if !strings.Contains(string(b), "messages_room_recent_idx") {
		t.Fatalf("expected messages migration to create the recent index")
	}
}
