package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadDialogues reads canned dialogues from a YAML file shaped as
//
//	- user: "主人: 早上好"
//	  assistant: "早上好呀"
func LoadDialogues(path string) ([]Dialogue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read dialogues file %s: %w", path, err)
	}

	var dialogues []Dialogue
	if err := yaml.Unmarshal(data, &dialogues); err != nil {
		return nil, fmt.Errorf("cannot parse dialogues file %s: %w", path, err)
	}

	out := dialogues[:0]
	for _, d := range dialogues {
		if d.User == "" || d.Assistant == "" {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// SaveDialogues writes dialogues back in the format LoadDialogues reads.
func SaveDialogues(path string, dialogues []Dialogue) error {
	data, err := yaml.Marshal(dialogues)
	if err != nil {
		return fmt.Errorf("cannot marshal dialogues: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
