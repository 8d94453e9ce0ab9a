package importer

import (
	"errors"
	"fmt"
	"strings"

	"autodelivery-api/internal/model"
)

// DefaultMaxLines bounds a single bulk import.
const DefaultMaxLines = 5000

// ErrTooManyLines is returned when the pasted text exceeds the line limit.
var ErrTooManyLines = errors.New("too many lines in import")

// accountDelimiters are the separators accepted between email, password and notes.
const accountDelimiters = ":|\t"

// Batch is the parsed form of a bulk paste: the payloads that passed validation
// plus a report for every line that did not.
type Batch struct {
	Payloads []model.Payload
	Skipped  int
	Errors   []model.LineError
}

// Parser turns raw seller text into validated payloads, one line at a time.
type Parser struct {
	validator *Validator
	maxLines  int
}

// NewParser creates a bulk parser. maxLines <= 0 selects DefaultMaxLines.
func NewParser(v *Validator, maxLines int) *Parser {
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}
	return &Parser{validator: v, maxLines: maxLines}
}

// Parse splits text into lines and parses each independently. Lines that fail
// are reported and skipped; blank lines are ignored entirely.
func (p *Parser) Parse(itemType model.ItemType, text string) (*Batch, error) {
	if _, err := model.ParseItemType(string(itemType)); err != nil {
		return nil, err
	}

	lines := strings.Split(text, "\n")
	nonBlank := 0
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			nonBlank++
		}
	}
	if nonBlank > p.maxLines {
		return nil, fmt.Errorf("%w: %d lines (max %d)", ErrTooManyLines, nonBlank, p.maxLines)
	}

	batch := &Batch{Payloads: make([]model.Payload, 0, nonBlank)}
	for i, raw := range lines {
		line := strings.TrimSpace(strings.TrimRight(raw, "\r"))
		if line == "" {
			continue
		}

		payload, err := p.parseLine(itemType, line)
		if err != nil {
			batch.Skipped++
			batch.Errors = append(batch.Errors, model.LineError{Line: i + 1, Reason: err.Error()})
			continue
		}
		batch.Payloads = append(batch.Payloads, payload)
	}
	return batch, nil
}

func (p *Parser) parseLine(itemType model.ItemType, line string) (model.Payload, error) {
	var raw model.Payload

	switch itemType {
	case model.ItemTypeAccount:
		// The leftmost delimiter ends the email; passwords may contain the others.
		idx := strings.IndexAny(line, accountDelimiters)
		if idx < 0 {
			return model.Payload{}, errors.New("expected email<delim>password[<delim>notes] with ':', '|' or tab")
		}
		delim := line[idx : idx+1]
		rest := strings.SplitN(line[idx+1:], delim, 2)
		raw.Email = line[:idx]
		raw.Password = rest[0]
		if len(rest) == 2 {
			raw.Notes = rest[1]
		}
	case model.ItemTypeLicenseKey:
		raw.Key = line
	case model.ItemTypeDownload:
		fields := strings.Fields(line)
		raw.FileURL = fields[0]
		if len(fields) > 1 {
			raw.FileName = strings.Join(fields[1:], " ")
		}
	}

	return p.validator.Normalize(itemType, raw)
}
