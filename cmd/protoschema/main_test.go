package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuildSchemaCoversEveryMessage(t *testing.T) {
	schema := buildSchema()
	data, err := json.Marshal(schema)
	if err != nil {
		t.Fatalf("marshal schema: %v", err)
	}
	text := string(data)
	for _, name := range []string{"gameState", "playerInput", "playerJoined", "playerLeft", "playerList", "chatMessage", "trickState", "senderNickname"} {
		if !strings.Contains(text, `"`+name+`"`) {
			t.Fatalf("expected schema to mention %q", name)
		}
	}
}

func TestWriteSchemaReplacesFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "nested", "protocol.schema.json")
	if err := writeSchema(out, buildSchema()); err != nil {
		t.Fatalf("write schema: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read schema: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("schema is not valid JSON: %v", err)
	}
	if decoded["title"] != "noob-skater netplay protocol" {
		t.Fatalf("unexpected title: %v", decoded["title"])
	}
	if _, err := os.Stat(out + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("expected temp file to be renamed away")
	}
}
