package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PatternType enumerates the kinds of behavioral pattern.
type PatternType string

const (
	PatternTiming    PatternType = "timing"
	PatternAttribute PatternType = "attribute"
	PatternFailure   PatternType = "failure"
)

// ValidationStatus is the review state of a discovered pattern.
type ValidationStatus string

const (
	ValidationPending   ValidationStatus = "pending"
	ValidationValidated ValidationStatus = "validated"
	ValidationRejected  ValidationStatus = "rejected"
)

// PatternData is the type-specific payload of a discovered pattern.
type PatternData interface {
	PatternType() PatternType
}

// TimingData describes an hour of day with an elevated success rate.
type TimingData struct {
	Hour        int     `json:"hour"` // 0-23, UTC
	SuccessRate float64 `json:"success_rate"`
	Lift        float64 `json:"lift"`
}

// AttributeData describes an attribute value with an elevated success rate.
type AttributeData struct {
	Key         string  `json:"key"`
	Value       string  `json:"value"`
	SuccessRate float64 `json:"success_rate"`
	Lift        float64 `json:"lift"`
}

// FailureData describes an attribute value over-represented among failures.
type FailureData struct {
	Key         string  `json:"key"`
	Value       string  `json:"value"`
	FailureRate float64 `json:"failure_rate"`
	Lift        float64 `json:"lift"`
}

func (TimingData) PatternType() PatternType    { return PatternTiming }
func (AttributeData) PatternType() PatternType { return PatternAttribute }
func (FailureData) PatternType() PatternType   { return PatternFailure }

// DiscoveredPattern is an append-only record of a mined behavioral pattern.
type DiscoveredPattern struct {
	ID                     uuid.UUID        `json:"id"`
	Type                   PatternType      `json:"type"`
	Name                   string           `json:"name"`
	Description            string           `json:"description"`
	ConfidenceScore        float64          `json:"confidence_score"`
	SupportingSessionCount int              `json:"supporting_session_count"`
	ValidationStatus       ValidationStatus `json:"validation_status"`
	Data                   PatternData      `json:"data"`
	DiscoveredAt           time.Time        `json:"discovered_at"`
}

// DecodePatternData decodes raw JSON into the variant for the given type.
func DecodePatternData(t PatternType, raw []byte) (PatternData, error) {
	switch t {
	case PatternTiming:
		var d TimingData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("model: decode timing pattern: %w", err)
		}
		return d, nil
	case PatternAttribute:
		var d AttributeData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("model: decode attribute pattern: %w", err)
		}
		return d, nil
	case PatternFailure:
		var d FailureData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("model: decode failure pattern: %w", err)
		}
		return d, nil
	default:
		return nil, fmt.Errorf("model: unknown pattern type %q", t)
	}
}

// UnmarshalJSON decodes Data using Type as the tag.
func (p *DiscoveredPattern) UnmarshalJSON(data []byte) error {
	type alias DiscoveredPattern
	var in struct {
		alias
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*p = DiscoveredPattern(in.alias)
	if len(in.Data) == 0 || string(in.Data) == "null" {
		p.Data = nil
		return nil
	}
	d, err := DecodePatternData(in.Type, in.Data)
	if err != nil {
		return err
	}
	p.Data = d
	return nil
}
