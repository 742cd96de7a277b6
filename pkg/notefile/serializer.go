// Package notefile encodes notes as repository files: a YAML header block
// (title, tags, created_at, updated_at), a blank line, then the body.
//
// The encoder reproduces the exact textual layout of files written by
// earlier releases, so previously stored notes keep byte-identical content
// (and therefore identical revisions) when nothing changed.
package notefile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// TimeLayout is the timestamp format used in headers (UTC, millisecond
// precision, trailing Z).
const TimeLayout = "2006-01-02T15:04:05.000Z"

// Header is the metadata block at the top of a note file.
type Header struct {
	Title     string   `yaml:"title"`
	Tags      []string `yaml:"tags"`
	CreatedAt string   `yaml:"created_at"`
	UpdatedAt string   `yaml:"updated_at"`
}

// Document is a decoded note file.
type Document struct {
	Header Header
	Body   string
	// HasHeader is false when the file carried no header block at all.
	HasHeader bool
}

// Created parses the created_at header field.
func (d Document) Created() (time.Time, bool) {
	return parseTime(d.Header.CreatedAt)
}

// Updated parses the updated_at header field.
func (d Document) Updated() (time.Time, bool) {
	return parseTime(d.Header.UpdatedAt)
}

var errUnterminatedHeader = errors.New("header started but no closing delimiter found")

// Decode splits data into header and body.
// Files without a leading "---" line decode to a body-only document.
func Decode(data []byte) (Document, error) {
	var lead int
	switch {
	case bytes.HasPrefix(data, []byte("---\n")):
		lead = 4
	case bytes.HasPrefix(data, []byte("---\r\n")):
		lead = 5
	default:
		return Document{Body: string(data)}, nil
	}

	rest := data[lead:]
	headerEnd, bodyStart := findClosing(rest)
	if headerEnd < 0 {
		return Document{}, errUnterminatedHeader
	}

	doc := Document{HasHeader: true}
	if err := yaml.Unmarshal(rest[:headerEnd], &doc.Header); err != nil {
		// Older writers did not escape quotes inside values, which is not
		// valid YAML. Fall back to reading the fixed layout line by line.
		h, ok := parseLoose(rest[:headerEnd])
		if !ok {
			return Document{}, fmt.Errorf("failed to parse header: %w", err)
		}
		doc.Header = h
	}

	body := string(rest[bodyStart:])
	// One separating blank line belongs to the layout, not to the body.
	if strings.HasPrefix(body, "\r\n") {
		body = body[2:]
	} else if strings.HasPrefix(body, "\n") {
		body = body[1:]
	}
	doc.Body = body
	return doc, nil
}

// findClosing locates the closing "---" line of a header block.
// It returns the end of the YAML section and the index right after the
// delimiter line, or -1 when the header is unterminated.
func findClosing(rest []byte) (int, int) {
	offset := 0
	for offset <= len(rest) {
		line := rest[offset:]
		next := bytes.IndexByte(line, '\n')
		var text []byte
		if next < 0 {
			text = line
		} else {
			text = line[:next]
		}
		if string(bytes.TrimSuffix(text, []byte("\r"))) == "---" {
			if next < 0 {
				return offset, len(rest)
			}
			return offset, offset + next + 1
		}
		if next < 0 {
			return -1, -1
		}
		offset += next + 1
	}
	return -1, -1
}

func parseLoose(header []byte) (Header, bool) {
	var h Header
	found := false
	for _, line := range strings.Split(string(header), "\n") {
		key, value, ok := strings.Cut(strings.TrimRight(line, "\r"), ": ")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch key {
		case "title":
			h.Title = unquoteLoose(value)
		case "created_at":
			h.CreatedAt = unquoteLoose(value)
		case "updated_at":
			h.UpdatedAt = unquoteLoose(value)
		case "tags":
			inner := strings.TrimSuffix(strings.TrimPrefix(value, "["), "]")
			for _, t := range strings.Split(inner, ", ") {
				if t = unquoteLoose(strings.TrimSpace(t)); t != "" {
					h.Tags = append(h.Tags, t)
				}
			}
		default:
			continue
		}
		found = true
	}
	return h, found
}

func unquoteLoose(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// Encode renders doc in the stored layout.
func Encode(doc Document) []byte {
	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.WriteString("title: ")
	buf.WriteString(quote(doc.Header.Title))
	buf.WriteString("\n")
	buf.WriteString("tags: [")
	for i, tag := range doc.Header.Tags {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(quote(tag))
	}
	buf.WriteString("]\n")
	buf.WriteString("created_at: ")
	buf.WriteString(quote(doc.Header.CreatedAt))
	buf.WriteString("\n")
	buf.WriteString("updated_at: ")
	buf.WriteString(quote(doc.Header.UpdatedAt))
	buf.WriteString("\n")
	buf.WriteString("---\n")
	buf.WriteString("\n")
	buf.WriteString(doc.Body)
	return buf.Bytes()
}

// quote renders s as a double-quoted scalar. JSON string escapes are a
// subset of YAML double-quoted escapes, and plain text renders exactly as
// "text".
func quote(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return `""`
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

// FormatTime renders t in the header layout.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimeLayout)
}

func parseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{TimeLayout, time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
