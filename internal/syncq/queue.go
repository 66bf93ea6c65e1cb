// Package syncq keeps mutating duelctl requests that failed in transit so
// they can be replayed with their original idempotency keys.
package syncq

import (
	"encoding/json"
	"os"
	"path/filepath"

	cl "duels/internal/cli"
)

type Command struct {
	Method         string         `json:"method"`
	Path           string         `json:"path"`
	Body           map[string]any `json:"body,omitempty"`
	IdempotencyKey string         `json:"idempotency_key"`
}

func queuePath() (string, error) {
	dir, err := cl.BaseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "queue.json"), nil
}

func Load() ([]Command, error) {
	path, err := queuePath()
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Command{}, nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return []Command{}, nil
	}
	var out []Command
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func Save(commands []Command) error {
	path, err := queuePath()
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(commands, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}

// Push appends cmd unless a command with the same idempotency key is
// already queued.
func Push(cmd Command) error {
	commands, err := Load()
	if err != nil {
		return err
	}
	for _, c := range commands {
		if cmd.IdempotencyKey != "" && c.IdempotencyKey == cmd.IdempotencyKey {
			return nil
		}
	}
	commands = append(commands, cmd)
	return Save(commands)
}
