package project

import (
	"fmt"
	"slices"
)

// Status is the lifecycle state reported by the API for a project.
type Status string

const (
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	return s == StatusRunning || s == StatusStopped
}

// Project is a named unit with a running/stopped status, as returned by
// the bulk listing endpoint.
type Project struct {
	Name   string `json:"name" yaml:"name"`
	Status Status `json:"status" yaml:"status"`
}

// Validate checks that the project has a usable name and a known status.
func (p Project) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("project name is empty")
	}
	if !p.Status.Valid() {
		return fmt.Errorf("project %q: unknown status %q", p.Name, p.Status)
	}
	return nil
}

// Details is a Project plus its file listing.
type Details struct {
	Project `yaml:",inline"`

	// Files lists file names in the project directory, in API order.
	Files []string `json:"files" yaml:"files"`
}

// Validate checks the embedded project and the file names.
func (d Details) Validate() error {
	if err := d.Project.Validate(); err != nil {
		return err
	}
	if d.Files == nil {
		return fmt.Errorf("project %q: files missing", d.Name)
	}
	for i, f := range d.Files {
		if f == "" {
			return fmt.Errorf("project %q: files[%d] is empty", d.Name, i)
		}
	}
	return nil
}

// Clone returns a copy that shares no memory with d.
func (d Details) Clone() Details {
	out := d
	out.Files = slices.Clone(d.Files)
	if out.Files == nil {
		out.Files = []string{}
	}
	return out
}

// FromProject converts a summary into Details with an empty file list.
// The bulk endpoint does not report files.
func FromProject(p Project) Details {
	return Details{Project: p, Files: []string{}}
}

// File is the content of a single project file.
type File struct {
	Name    string `json:"name" yaml:"name"`
	Content string `json:"content" yaml:"content"`
}

// ValidateList validates every project and enforces unique names.
func ValidateList(projects []Project) error {
	seen := make(map[string]bool, len(projects))
	for i, p := range projects {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("projects[%d]: %w", i, err)
		}
		if seen[p.Name] {
			return fmt.Errorf("projects[%d]: duplicate name %q", i, p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}
