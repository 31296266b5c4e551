package session

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"beamsh"
	"beamsh/devdb"
)

// questionnaireEntry is one row of the per-experiment questionnaire
// export, a YAML list maintained by facility tooling under
// experiments/<name>.yml.
type questionnaireEntry struct {
	Name   string `yaml:"name"`
	Kind   string `yaml:"kind"`
	Prefix string `yaml:"prefix"`
}

func readQuestionnaire(path string) ([]questionnaireEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []questionnaireEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse questionnaire: %w", err)
	}
	return entries, nil
}

func buildQuestionnaireDevice(reg *devdb.Registry, entry questionnaireEntry) (beamsh.Device, error) {
	if entry.Name == "" {
		return nil, fmt.Errorf("entry has no name")
	}
	return reg.Build(devdb.Record{
		Name:   entry.Name,
		Kind:   entry.Kind,
		Prefix: entry.Prefix,
	})
}
