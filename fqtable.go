package curation

import (
	"fmt"
	"strings"
)

// FQTable identifies a BigQuery table as project.dataset.table.
type FQTable struct {
	Project string
	Dataset string
	Table   string
}

// ParseFQTable parses a fully qualified table name of the form
// 'project.dataset.table'.
func ParseFQTable(name string) (FQTable, error) {
	parts := strings.Split(name, ".")
	if len(parts) != 3 {
		return FQTable{}, fmt.Errorf("%q should be of the form 'project.dataset.table'", name)
	}
	for _, part := range parts {
		if part == "" {
			return FQTable{}, fmt.Errorf("%q should be of the form 'project.dataset.table'", name)
		}
	}

	return FQTable{Project: parts[0], Dataset: parts[1], Table: parts[2]}, nil
}

// ParseDeactivatedTable parses a fully qualified table name and additionally
// requires that the table component names the deactivated participant table.
func ParseDeactivatedTable(name string) (FQTable, error) {
	fq, err := ParseFQTable(name)
	if err != nil {
		return FQTable{}, err
	}
	if fq.Table != DeactivatedParticipants {
		return FQTable{}, fmt.Errorf("%q should be of the form 'project.dataset.%s'", name, DeactivatedParticipants)
	}

	return fq, nil
}

func (f FQTable) String() string {
	return f.Project + "." + f.Dataset + "." + f.Table
}
