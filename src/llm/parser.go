package llm

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"fuelbot/src/logger"
	"fuelbot/src/model"
)

// Delimiters of the tuple output format the model is asked to produce.
const (
	RecordDelimiter     = "##"
	TupleDelimiter      = "<||>"
	CompletionDelimiter = "<|COMPLETE|>"
	MaxTupleLength      = 500
)

// RawTuple is a record split into its parts. Parts[0] is the tuple type.
type RawTuple struct {
	Type  string
	Parts []string
}

// TupleParser parses one tuple type and adds it to the response
type TupleParser interface {
	Parse(raw *RawTuple) error
	AddToResponse(resp *parsedResponse)
}

type parsedResponse struct {
	intents  []intentTuple
	entities model.Entities
	command  string
}

type intentTuple struct {
	intent     model.Intent
	confidence float64
}

type IntentParser struct {
	intentTuple
}

type EntityParser struct {
	slot  string
	value string
}

type CommandParser struct {
	name string
}

func validateString(s string, maxLength int, fieldName string) error {
	if s == "" {
		return fmt.Errorf("%s cannot be empty", fieldName)
	}
	if len(s) > maxLength {
		return fmt.Errorf("%s too long: %d characters (max: %d)", fieldName, len(s), maxLength)
	}
	if !utf8.ValidString(s) {
		return fmt.Errorf("%s contains invalid UTF-8 characters", fieldName)
	}
	return nil
}

func parseConfidence(s string) (float64, error) {
	value, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid confidence: %s", s)
	}
	return min(max(value, 0), 1), nil
}

func (p *IntentParser) Parse(raw *RawTuple) error {
	if len(raw.Parts) < 3 {
		return fmt.Errorf("intent tuple requires 3 parts, got %d", len(raw.Parts))
	}
	name := strings.TrimSpace(raw.Parts[1])
	if err := validateString(name, 50, "intent name"); err != nil {
		return err
	}
	p.intent = model.ParseIntent(name)

	var err error
	p.confidence, err = parseConfidence(raw.Parts[2])
	return err
}

func (p *IntentParser) AddToResponse(resp *parsedResponse) {
	resp.intents = append(resp.intents, p.intentTuple)
}

func (p *EntityParser) Parse(raw *RawTuple) error {
	if len(raw.Parts) < 3 {
		return fmt.Errorf("entity tuple requires 3 parts, got %d", len(raw.Parts))
	}
	p.slot = strings.TrimSpace(raw.Parts[1])
	if err := validateString(p.slot, 50, "entity type"); err != nil {
		return err
	}
	p.value = strings.TrimSpace(raw.Parts[2])
	if err := validateString(p.value, 200, "entity value"); err != nil {
		return err
	}
	if p.slot == "time_period" {
		if _, err := strconv.Atoi(p.value); err != nil {
			return fmt.Errorf("invalid time_period: %s", p.value)
		}
	}
	return nil
}

func (p *EntityParser) AddToResponse(resp *parsedResponse) {
	switch p.slot {
	case "fuel_type":
		resp.entities.FuelType = strings.ToLower(p.value)
	case "location":
		resp.entities.Location = p.value
	case "time_period":
		days, _ := strconv.Atoi(p.value)
		resp.entities.TimePeriod = days
	case "station_name":
		resp.entities.StationName = p.value
	}
}

func (p *CommandParser) Parse(raw *RawTuple) error {
	if len(raw.Parts) < 2 {
		return fmt.Errorf("command tuple requires 2 parts, got %d", len(raw.Parts))
	}
	p.name = strings.TrimPrefix(strings.TrimSpace(raw.Parts[1]), "/")
	return validateString(p.name, 50, "command name")
}

func (p *CommandParser) AddToResponse(resp *parsedResponse) {
	resp.command = p.name
}

// createParser returns the parser for a tuple type
func createParser(tupleType string) (TupleParser, error) {
	switch tupleType {
	case "intent":
		return &IntentParser{}, nil
	case "entity":
		return &EntityParser{}, nil
	case "command":
		return &CommandParser{}, nil
	default:
		return nil, fmt.Errorf("unknown tuple type: %s", tupleType)
	}
}

// parseRawTuple converts "(intent<||>price_query<||>0.9)" into a RawTuple
func parseRawTuple(tupleStr string) (*RawTuple, error) {
	if err := validateString(tupleStr, MaxTupleLength, "tuple string"); err != nil {
		return nil, err
	}
	tupleStr = strings.TrimSpace(strings.Trim(tupleStr, "()"))

	parts := strings.Split(tupleStr, TupleDelimiter)
	if len(parts) < 2 {
		return nil, fmt.Errorf("invalid tuple format: expected at least 2 parts, got %d", len(parts))
	}
	tupleType := strings.TrimSpace(parts[0])
	if tupleType == "" {
		return nil, fmt.Errorf("tuple type cannot be empty")
	}
	return &RawTuple{Type: tupleType, Parts: parts}, nil
}

// ParseResponse turns the model output into an AIResponse. Malformed records are skipped;
// output without any intent record is an error.
func ParseResponse(content string) (*model.AIResponse, error) {
	var parsed parsedResponse
	content = strings.ReplaceAll(content, CompletionDelimiter, "")
	for _, record := range strings.Split(content, RecordDelimiter) {
		record = strings.TrimSpace(record)
		if record == "" {
			continue
		}
		if err := parseRecord(record, &parsed); err != nil {
			logger.Warn().Err(err).Str("record", record).Msg("skipping malformed tuple")
		}
	}

	if len(parsed.intents) == 0 {
		return nil, fmt.Errorf("no intent found in model output")
	}

	best := parsed.intents[0]
	for _, it := range parsed.intents[1:] {
		if it.confidence > best.confidence {
			best = it
		}
	}
	return &model.AIResponse{
		Intent:           best.intent,
		Entities:         parsed.entities,
		Confidence:       best.confidence,
		SuggestedCommand: parsed.command,
	}, nil
}

// parseRecord orchestrates raw parsing -> type-specific parsing -> response integration
func parseRecord(record string, resp *parsedResponse) error {
	raw, err := parseRawTuple(record)
	if err != nil {
		return err
	}
	parser, err := createParser(raw.Type)
	if err != nil {
		return err
	}
	if err := parser.Parse(raw); err != nil {
		return err
	}
	parser.AddToResponse(resp)
	return nil
}
