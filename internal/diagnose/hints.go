package diagnose

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Hint is one decision heuristic rendered into the SRE system prompt.
type Hint struct {
	When   string `yaml:"when"`
	Prefer string `yaml:"prefer"`
	Detail string `yaml:"detail"`
}

// HintPackFile is the YAML root structure.
type HintPackFile struct {
	Hints []Hint `yaml:"hints"`
}

// LoadHints reads a hint pack from path. An empty path or a missing file
// yields the built-in defaults; a malformed file is an error so a broken
// pack never silently weakens the prompt.
func LoadHints(path string, logger *slog.Logger) ([]Hint, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		return defaultHints(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Info("hint pack not found, using built-in heuristics", slog.String("path", path))
			return defaultHints(), nil
		}
		return nil, fmt.Errorf("read hint pack: %w", err)
	}

	var file HintPackFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse hint pack: %w", err)
	}
	if len(file.Hints) == 0 {
		return defaultHints(), nil
	}
	logger.Info("hint pack loaded", slog.String("path", path), slog.Int("hints", len(file.Hints)))
	return file.Hints, nil
}

func defaultHints() []Hint {
	return []Hint{
		{When: "CPU spikes or memory leaks", Prefer: "SCALE_UP", Detail: "with replica_count=2-3"},
		{When: "DB issues", Prefer: "RESTART"},
		{When: "minor issues", Prefer: "NOOP"},
		{When: "pod crashes or OOM kills", Prefer: "RESTART", Detail: "with high confidence"},
	}
}

func renderHint(h Hint) string {
	line := fmt.Sprintf("For %s, prefer %s", h.When, h.Prefer)
	if h.Detail != "" {
		line += " " + h.Detail
	}
	return line + "."
}
