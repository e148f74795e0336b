// Package fixtures loads scripted conversations and replays them as agents.
//
// A script lists the turns of a conversation. Each turn holds the user text
// and the updates the agent answers with:
//
//	turns:
//	  - user: Create a plan
//	    updates:
//	      - conversation_id: conv-1
//	      - contents:
//	          - kind: tool_call
//	            call_id: c1
//	            name: create_plan
//	    cancel_after: 3
//
// Scripts can be written as YAML, JSON or NDJSON. In NDJSON every line is an
// update, a line of the form {"user": "..."} starts a new turn.
package fixtures

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-go-golems/chatfold/pkg/events"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Turn struct {
	User    string           `json:"user" yaml:"user"`
	Updates []*events.Update `json:"updates" yaml:"updates"`
	// CancelAfter stalls the stream after that many updates. Zero streams
	// the whole turn.
	CancelAfter int `json:"cancel_after,omitempty" yaml:"cancel_after,omitempty"`
}

type Script struct {
	Name  string  `json:"name,omitempty" yaml:"name,omitempty"`
	Turns []*Turn `json:"turns" yaml:"turns"`
}

func (s *Script) Validate() error {
	if len(s.Turns) == 0 {
		return errors.New("script has no turns")
	}
	for i, t := range s.Turns {
		if t == nil {
			return errors.Errorf("turn %d is empty", i)
		}
		if t.CancelAfter < 0 {
			return errors.Errorf("turn %d: cancel_after must not be negative", i)
		}
		for j, u := range t.Updates {
			if u == nil {
				return errors.Errorf("turn %d: update %d is empty", i, j)
			}
		}
	}
	return nil
}

// LoadScript reads a script, picking the format from the file extension.
func LoadScript(path string) (*Script, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read script %s", path)
	}

	var s *Script
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ndjson", ".jsonl":
		s, err = ParseNDJSON(bytes.NewReader(b))
	case ".json":
		s, err = ParseJSON(b)
	default:
		s, err = ParseYAML(b)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "could not parse script %s", path)
	}
	if s.Name == "" {
		s.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return s, nil
}

func ParseJSON(b []byte) (*Script, error) {
	var s Script
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, errors.Wrap(err, "could not decode script")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// ParseYAML decodes a YAML script. Payloads such as tool results or data are
// written as plain YAML and end up as JSON in the updates.
func ParseYAML(b []byte) (*Script, error) {
	var raw interface{}
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, errors.Wrap(err, "could not decode yaml script")
	}
	j, err := json.Marshal(raw)
	if err != nil {
		return nil, errors.Wrap(err, "could not convert yaml script to json")
	}
	return ParseJSON(j)
}

type ndjsonLine struct {
	User        *string `json:"user"`
	CancelAfter int     `json:"cancel_after"`
}

func ParseNDJSON(r io.Reader) (*Script, error) {
	s := &Script{}
	var current *Turn

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var header ndjsonLine
		if err := json.Unmarshal(line, &header); err != nil {
			return nil, errors.Wrapf(err, "line %d", lineNo)
		}
		if header.User != nil {
			current = &Turn{User: *header.User, CancelAfter: header.CancelAfter}
			s.Turns = append(s.Turns, current)
			continue
		}

		u, err := events.NewUpdateFromJson(line)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", lineNo)
		}
		if current == nil {
			current = &Turn{}
			s.Turns = append(s.Turns, current)
		}
		current.Updates = append(current.Updates, u)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "could not read ndjson script")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}
