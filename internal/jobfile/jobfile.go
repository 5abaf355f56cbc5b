// Package jobfile reads YAML job descriptions for the job-sender CLI.
package jobfile

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/cuongbtq/helix-jobs/shared/jobsender"
)

// ErrInvalidJobFile is returned when a job description is malformed
var ErrInvalidJobFile = errors.New("invalid job file")

// File is a job description as written on disk
type File struct {
	Source                  string            `yaml:"source"`
	Type                    string            `yaml:"type"`
	Build                   string            `yaml:"build"`
	TargetQueue             string            `yaml:"target_queue"`
	Creator                 string            `yaml:"creator"`
	ContainerName           string            `yaml:"container_name"`
	StorageConnectionString string            `yaml:"storage_connection_string"`
	MaxRetryCount           *int              `yaml:"max_retry_count"`
	Properties              map[string]string `yaml:"properties"`
	SecondaryQueues         []string          `yaml:"secondary_queues"`
	CorrelationPayloads     []Payload         `yaml:"correlation_payloads"`
	WorkItems               []WorkItem        `yaml:"work_items"`

	// relative payload paths are resolved against this directory
	baseDir string
}

// Payload names exactly one payload source
type Payload struct {
	URI       string   `yaml:"uri"`
	Directory string   `yaml:"directory"`
	Prefix    string   `yaml:"prefix"`
	Files     []string `yaml:"files"`
	Archive   string   `yaml:"archive"`
}

// WorkItem describes one work item. A nil payload means the item runs without one.
type WorkItem struct {
	Name    string        `yaml:"name"`
	Command string        `yaml:"command"`
	Timeout time.Duration `yaml:"timeout"`
	Payload *Payload      `yaml:"payload"`
}

// Load reads a job file. ${VAR} references are expanded from the environment.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read job file: %w", err)
	}

	f, err := Parse([]byte(os.ExpandEnv(string(data))))
	if err != nil {
		return nil, err
	}
	f.baseDir = filepath.Dir(path)
	return f, nil
}

// Parse decodes and validates a job description. Unknown keys are rejected.
func Parse(data []byte) (*File, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJobFile, err)
	}

	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) validate() error {
	var result *multierror.Error

	if f.TargetQueue == "" {
		result = multierror.Append(result, errors.New("target_queue is required"))
	}
	if len(f.WorkItems) == 0 {
		result = multierror.Append(result, errors.New("at least one work item is required"))
	}
	if f.MaxRetryCount != nil && *f.MaxRetryCount < 0 {
		result = multierror.Append(result, errors.New("max_retry_count must not be negative"))
	}

	for i, p := range f.CorrelationPayloads {
		if err := p.validate(); err != nil {
			result = multierror.Append(result, fmt.Errorf("correlation payload %d: %w", i, err))
		}
	}

	seen := make(map[string]struct{}, len(f.WorkItems))
	for i, w := range f.WorkItems {
		if w.Name == "" {
			result = multierror.Append(result, fmt.Errorf("work item %d has no name", i))
		} else if _, dup := seen[w.Name]; dup {
			result = multierror.Append(result, fmt.Errorf("duplicate work item %s", w.Name))
		}
		seen[w.Name] = struct{}{}

		if w.Timeout < 0 {
			result = multierror.Append(result, fmt.Errorf("work item %s has a negative timeout", w.Name))
		}
		if w.Payload != nil {
			if err := w.Payload.validate(); err != nil {
				result = multierror.Append(result, fmt.Errorf("work item %s payload: %w", w.Name, err))
			}
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidJobFile, err)
	}
	return nil
}

func (p Payload) validate() error {
	set := 0
	for _, ok := range []bool{p.URI != "", p.Directory != "", len(p.Files) > 0, p.Archive != ""} {
		if ok {
			set++
		}
	}
	switch {
	case set == 0:
		return errors.New("one of uri, directory, files or archive is required")
	case set > 1:
		return errors.New("only one of uri, directory, files or archive may be set")
	case p.Prefix != "" && p.Directory == "":
		return errors.New("prefix only applies to directory payloads")
	}
	return nil
}

// JobDefinition turns the description into a job definition sending through api.
// Commands are not checked here; JobDefinition.Send reports them with the payload checks.
func (f *File) JobDefinition(api jobsender.API, opts ...jobsender.Option) *jobsender.JobDefinition {
	job := jobsender.New(api, opts...).
		WithSource(f.Source).
		WithType(f.Type).
		WithBuild(f.Build).
		WithTargetQueue(f.TargetQueue).
		WithCreator(f.Creator).
		WithMaxRetryCount(f.MaxRetryCount)

	if f.ContainerName != "" {
		job.WithContainerName(f.ContainerName)
	}
	if f.StorageConnectionString != "" {
		job.WithStorageAccountConnectionString(f.StorageConnectionString)
	}
	for k, v := range f.Properties {
		job.WithProperty(k, v)
	}
	for _, q := range f.SecondaryQueues {
		job.WithSecondaryQueue(q)
	}

	for _, p := range f.CorrelationPayloads {
		switch {
		case p.URI != "":
			job.WithCorrelationPayloadURIs(p.URI)
		case p.Directory != "":
			job.WithCorrelationPayloadDirectory(f.path(p.Directory), p.Prefix)
		case len(p.Files) > 0:
			job.WithCorrelationPayloadFiles(f.paths(p.Files)...)
		case p.Archive != "":
			job.WithCorrelationPayloadArchive(f.path(p.Archive))
		}
	}

	for _, w := range f.WorkItems {
		b := job.DefineWorkItem(w.Name).WithCommand(w.Command)
		if w.Timeout > 0 {
			b.WithTimeout(w.Timeout)
		}
		if p := w.Payload; p != nil {
			switch {
			case p.URI != "":
				b.WithPayloadURI(p.URI)
			case p.Directory != "":
				b.WithDirectoryPayload(f.path(p.Directory), p.Prefix)
			case len(p.Files) > 0:
				b.WithFilesPayload(f.paths(p.Files)...)
			case p.Archive != "":
				b.WithArchivePayload(f.path(p.Archive))
			}
		}
		b.AttachToJob()
	}

	return job
}

func (f *File) path(p string) string {
	if f.baseDir == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(f.baseDir, p)
}

func (f *File) paths(ps []string) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = f.path(p)
	}
	return out
}
