package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/invopop/jsonschema"

	"github.com/bartektricks/noob-skater-sub000/internal/net/proto"
)

// wireMessages lists every payload a link may carry, keyed by envelope type.
type wireMessages struct {
	GameState    proto.GameState    `json:"gameState"`
	PlayerInput  proto.PlayerInput  `json:"playerInput"`
	PlayerJoined proto.PlayerJoined `json:"playerJoined"`
	PlayerLeft   proto.PlayerLeft   `json:"playerLeft"`
	PlayerList   proto.PlayerList   `json:"playerList"`
	ChatMessage  proto.ChatMessage  `json:"chatMessage"`
}

func main() {
	var outPath string
	flag.StringVar(&outPath, "out", "", "path to write the JSON schema")
	flag.Parse()

	if outPath == "" {
		fmt.Fprintln(os.Stderr, "--out is required")
		os.Exit(1)
	}

	if err := writeSchema(outPath, buildSchema()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write schema: %v\n", err)
		os.Exit(1)
	}
}

func buildSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: true,
		ExpandedStruct:            true,
	}
	schema := reflector.Reflect(new(wireMessages))
	schema.Title = "noob-skater netplay protocol"
	schema.Description = fmt.Sprintf("Payloads of protocol version %d, keyed by envelope type", proto.Version)
	return schema
}

func writeSchema(outPath string, schema *jsonschema.Schema) error {
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create schema directory: %w", err)
	}

	tmpPath := outPath + ".tmp"
	if err := os.WriteFile(tmpPath, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write temp schema: %w", err)
	}

	if err := os.Rename(tmpPath, outPath); err != nil {
		return fmt.Errorf("replace schema: %w", err)
	}

	return nil
}
