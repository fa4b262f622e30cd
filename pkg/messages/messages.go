// Package messages defines the envelope types threaded across the pipeline's
// queues: scan specifications, conversion requests, match/metadata/problem/
// status reports. Every envelope round-trips through JSON (encoding/json)
// and is validated against a JSON Schema before a stage accepts it off a
// queue.
package messages

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/AsgerHL/Bachelor-POC/pkg/model"
	"github.com/AsgerHL/Bachelor-POC/pkg/rule"
)

// Scanner identifies the scanner job that issued a scan.
type Scanner struct {
	PK   int64  `json:"pk"`
	Name string `json:"name"`
}

// ScanTag is the identity of a scan run, joining messages across stages.
type ScanTag struct {
	Scanner      Scanner   `json:"scanner"`
	Time         time.Time `json:"time"`
	User         string    `json:"user,omitempty"`
	Organisation string    `json:"organisation,omitempty"`
}

// Progress tracks the in-flight Rule residue and match fragments
// accumulated so far for one handle as it passes between stages.
type Progress struct {
	Rule    rule.Rule           `json:"rule"`
	Matches []rule.MatchFragment `json:"matches"`
}

func (p Progress) MarshalJSON() ([]byte, error) {
	var raw json.RawMessage
	if p.Rule != nil {
		var err error
		raw, err = p.Rule.ToJSON()
		if err != nil {
			return nil, err
		}
	}
	return json.Marshal(struct {
		Rule    json.RawMessage       `json:"rule"`
		Matches []rule.MatchFragment  `json:"matches"`
	}{Rule: raw, Matches: p.Matches})
}

func (p *Progress) UnmarshalJSON(data []byte) error {
	var v struct {
		Rule    json.RawMessage       `json:"rule"`
		Matches []rule.MatchFragment  `json:"matches"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if len(v.Rule) > 0 && string(v.Rule) != "null" {
		r, err := rule.FromJSONObject(v.Rule)
		if err != nil {
			return fmt.Errorf("messages: progress.rule: %w", err)
		}
		p.Rule = r
	}
	p.Matches = v.Matches
	return nil
}

// ScanSpec is the top-level request a user submits: inspect source for rule,
// under configuration, optionally restricted by filter_rule, optionally
// resuming from a prior progress.
type ScanSpec struct {
	ScanTag       ScanTag        `json:"scan_tag"`
	Source        model.Source   `json:"source"`
	Rule          rule.Rule      `json:"rule"`
	Configuration map[string]any `json:"configuration,omitempty"`
	FilterRule    rule.Rule      `json:"filter_rule,omitempty"`
	Progress      *Progress      `json:"progress,omitempty"`
}

func (s ScanSpec) MarshalJSON() ([]byte, error) {
	sourceJSON, err := s.Source.ToJSON()
	if err != nil {
		return nil, err
	}
	ruleJSON, err := s.Rule.ToJSON()
	if err != nil {
		return nil, err
	}
	var filterJSON json.RawMessage
	if s.FilterRule != nil {
		filterJSON, err = s.FilterRule.ToJSON()
		if err != nil {
			return nil, err
		}
	}
	return json.Marshal(struct {
		ScanTag       ScanTag         `json:"scan_tag"`
		Source        json.RawMessage `json:"source"`
		Rule          json.RawMessage `json:"rule"`
		Configuration map[string]any  `json:"configuration,omitempty"`
		FilterRule    json.RawMessage `json:"filter_rule,omitempty"`
		Progress      *Progress       `json:"progress,omitempty"`
	}{
		ScanTag:       s.ScanTag,
		Source:        sourceJSON,
		Rule:          ruleJSON,
		Configuration: s.Configuration,
		FilterRule:    filterJSON,
		Progress:      s.Progress,
	})
}

func (s *ScanSpec) UnmarshalJSON(data []byte) error {
	var v struct {
		ScanTag       ScanTag         `json:"scan_tag"`
		Source        json.RawMessage `json:"source"`
		Rule          json.RawMessage `json:"rule"`
		Configuration map[string]any  `json:"configuration"`
		FilterRule    json.RawMessage `json:"filter_rule"`
		Progress      *Progress       `json:"progress"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	src, err := model.FromJSONObject(v.Source)
	if err != nil {
		return fmt.Errorf("messages: scan_spec.source: %w", err)
	}
	r, err := rule.FromJSONObject(v.Rule)
	if err != nil {
		return fmt.Errorf("messages: scan_spec.rule: %w", err)
	}
	s.ScanTag = v.ScanTag
	s.Source = src
	s.Rule = r
	s.Configuration = v.Configuration
	s.Progress = v.Progress
	if len(v.FilterRule) > 0 && string(v.FilterRule) != "null" {
		fr, err := rule.FromJSONObject(v.FilterRule)
		if err != nil {
			return fmt.Errorf("messages: scan_spec.filter_rule: %w", err)
		}
		s.FilterRule = fr
	}
	return nil
}

// ConversionRequest asks the processor to produce the OutputType the
// progress's rule residue currently needs for handle.
type ConversionRequest struct {
	ScanSpec ScanSpec     `json:"scan_spec"`
	Handle   model.Handle `json:"handle"`
	Progress Progress     `json:"progress"`
}

func (c ConversionRequest) MarshalJSON() ([]byte, error) {
	handleJSON, err := c.Handle.ToJSON()
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		ScanSpec ScanSpec        `json:"scan_spec"`
		Handle   json.RawMessage `json:"handle"`
		Progress Progress        `json:"progress"`
	}{ScanSpec: c.ScanSpec, Handle: handleJSON, Progress: c.Progress})
}

func (c *ConversionRequest) UnmarshalJSON(data []byte) error {
	var v struct {
		ScanSpec ScanSpec        `json:"scan_spec"`
		Handle   json.RawMessage `json:"handle"`
		Progress Progress        `json:"progress"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	h, err := model.HandleFromJSONObject(v.Handle)
	if err != nil {
		return fmt.Errorf("messages: conversion_request.handle: %w", err)
	}
	c.ScanSpec = v.ScanSpec
	c.Handle = h
	c.Progress = v.Progress
	return nil
}

// MatchMessage carries the "matches" queue's two distinct shapes under one
// envelope: a non-terminal message from the Processor bearing the
// conversion Value the Matcher's current rule head needs (Terminal false,
// Matched meaningless), or a terminal outcome the Matcher itself emits once
// the split()/match() loop reaches a boolean residue (Terminal true).
type MatchMessage struct {
	ScanSpec ScanSpec             `json:"scan_spec"`
	Handle   model.Handle         `json:"handle"`
	Progress Progress             `json:"progress"`
	Value    json.RawMessage      `json:"value,omitempty"`
	Matched  bool                 `json:"matched"`
	Matches  []rule.MatchFragment `json:"matches,omitempty"`
	Terminal bool                 `json:"terminal"`
}

func (m MatchMessage) MarshalJSON() ([]byte, error) {
	handleJSON, err := m.Handle.ToJSON()
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		ScanSpec ScanSpec             `json:"scan_spec"`
		Handle   json.RawMessage      `json:"handle"`
		Progress Progress             `json:"progress"`
		Value    json.RawMessage      `json:"value,omitempty"`
		Matched  bool                 `json:"matched"`
		Matches  []rule.MatchFragment `json:"matches,omitempty"`
		Terminal bool                 `json:"terminal"`
	}{
		ScanSpec: m.ScanSpec, Handle: handleJSON, Progress: m.Progress, Value: m.Value,
		Matched: m.Matched, Matches: m.Matches, Terminal: m.Terminal,
	})
}

func (m *MatchMessage) UnmarshalJSON(data []byte) error {
	var v struct {
		ScanSpec ScanSpec             `json:"scan_spec"`
		Handle   json.RawMessage      `json:"handle"`
		Progress Progress             `json:"progress"`
		Value    json.RawMessage      `json:"value"`
		Matched  bool                 `json:"matched"`
		Matches  []rule.MatchFragment `json:"matches"`
		Terminal bool                 `json:"terminal"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	h, err := model.HandleFromJSONObject(v.Handle)
	if err != nil {
		return fmt.Errorf("messages: match.handle: %w", err)
	}
	m.ScanSpec = v.ScanSpec
	m.Handle = h
	m.Progress = v.Progress
	m.Value = v.Value
	m.Matched = v.Matched
	m.Matches = v.Matches
	m.Terminal = v.Terminal
	return nil
}

// EncodeConversionValue renders a conversion value (as produced by
// pkg/conversions.Convert) into the json.RawMessage a MatchMessage.Value
// carries across the queue. The concrete type must be one of the values
// pkg/conversions actually produces: string (materialised Text), []string
// (Links), rule.ImageSize (ImageDimensions), or time.Time (LastModified).
func EncodeConversionValue(v any) (json.RawMessage, error) {
	switch v.(type) {
	case string, []string, rule.ImageSize, time.Time:
		return json.Marshal(v)
	default:
		return nil, fmt.Errorf("messages: cannot encode conversion value of type %T", v)
	}
}

// DecodeConversionValue parses raw back into the Go type OperatesOn's rules
// expect to receive from Rule.Match, based on the OutputType the Matcher's
// current rule head declares.
func DecodeConversionValue(outputType rule.OutputType, raw json.RawMessage) (any, error) {
	switch outputType {
	case rule.Text:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("messages: decoding text conversion value: %w", err)
		}
		return s, nil
	case rule.Links:
		var links []string
		if err := json.Unmarshal(raw, &links); err != nil {
			return nil, fmt.Errorf("messages: decoding links conversion value: %w", err)
		}
		return links, nil
	case rule.ImageDimensions:
		var size rule.ImageSize
		if err := json.Unmarshal(raw, &size); err != nil {
			return nil, fmt.Errorf("messages: decoding image-dimensions conversion value: %w", err)
		}
		return size, nil
	case rule.LastModified:
		var t time.Time
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, fmt.Errorf("messages: decoding last-modified conversion value: %w", err)
		}
		return t, nil
	default:
		return nil, fmt.Errorf("messages: no conversion value decoder for output type %q", outputType)
	}
}

// MetadataRequest asks the Tagger to assemble durable metadata for a
// positive terminal match.
type MetadataRequest struct {
	ScanTag ScanTag      `json:"scan_tag"`
	Handle  model.Handle `json:"handle"`
}

func (m MetadataRequest) MarshalJSON() ([]byte, error) {
	handleJSON, err := m.Handle.ToJSON()
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		ScanTag ScanTag         `json:"scan_tag"`
		Handle  json.RawMessage `json:"handle"`
	}{ScanTag: m.ScanTag, Handle: handleJSON})
}

func (m *MetadataRequest) UnmarshalJSON(data []byte) error {
	var v struct {
		ScanTag ScanTag         `json:"scan_tag"`
		Handle  json.RawMessage `json:"handle"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	h, err := model.HandleFromJSONObject(v.Handle)
	if err != nil {
		return fmt.Errorf("messages: metadata_request.handle: %w", err)
	}
	m.ScanTag = v.ScanTag
	m.Handle = h
	return nil
}

// MetadataMessage is the Tagger's durable record for one positive match.
type MetadataMessage struct {
	ScanTag         ScanTag   `json:"scan_tag"`
	Crunch          string    `json:"crunch"`
	Owner           string    `json:"owner,omitempty"`
	LastModified    time.Time `json:"last_modified,omitempty"`
	Mime            string    `json:"mime,omitempty"`
	PresentationURL string    `json:"presentation_url,omitempty"`
}

// ProblemKind names the closed set of problem categories §7 distinguishes.
type ProblemKind string

const (
	Unavailable ProblemKind = "unavailable"
	Malformed   ProblemKind = "malformed"
	Conversion  ProblemKind = "conversion"
	RuleBug     ProblemKind = "rule"
)

// ProblemMessage reports a recoverable failure for a Source, Handle, or raw
// description (Where holds whichever is available).
type ProblemMessage struct {
	ScanTag ScanTag     `json:"scan_tag"`
	Where   string      `json:"where"`
	Problem ProblemKind `json:"problem"`
	Extra   []string    `json:"extra,omitempty"`
}

// StatusMessage reports Explorer/pipeline progress for a scan_tag.
type StatusMessage struct {
	ScanTag       ScanTag `json:"scan_tag"`
	Message       string  `json:"message"`
	StatusIsError bool    `json:"status_is_error"`
	TotalObjects  *int    `json:"total_objects,omitempty"`
	NewSources    *int    `json:"new_sources,omitempty"`
	ObjectSize    *int64  `json:"object_size,omitempty"`
	ObjectType    *string `json:"object_type,omitempty"`
}
