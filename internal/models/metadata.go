package models

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// Metadata is the free-form bag attached to a notification. Known keys are
// typed fields; anything else lands in Extra. Construction goes through
// NewMetadata so required shapes are caught up front instead of at dispatch.
type Metadata struct {
	CampaignID   string                 `json:"campaignId,omitempty"`
	ConsentGiven bool                   `json:"consentGiven,omitempty"`
	Locale       string                 `json:"locale,omitempty"`
	Extra        map[string]interface{} `json:"extra,omitempty"`
}

const metadataSchema = `{
	"type": "object",
	"properties": {
		"campaignId":   {"type": "string"},
		"consentGiven": {"type": "boolean"},
		"locale":       {"type": "string", "maxLength": 16},
		"extra":        {"type": "object"}
	},
	"additionalProperties": false
}`

var metadataSchemaLoader = gojsonschema.NewStringLoader(metadataSchema)

// NewMetadata validates a raw map against the metadata schema and splits it
// into typed fields plus the extra bag.
func NewMetadata(raw map[string]interface{}) (Metadata, error) {
	if raw == nil {
		return Metadata{}, nil
	}

	result, err := gojsonschema.Validate(metadataSchemaLoader, gojsonschema.NewGoLoader(raw))
	if err != nil {
		return Metadata{}, fmt.Errorf("metadata validation: %w", err)
	}
	if !result.Valid() {
		return Metadata{}, fmt.Errorf("invalid metadata: %s", result.Errors()[0].String())
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return Metadata{}, fmt.Errorf("metadata encode: %w", err)
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return Metadata{}, fmt.Errorf("metadata decode: %w", err)
	}
	return m, nil
}

// Value flattens the metadata back into a map for storage and webhooks.
func (m Metadata) Value() map[string]interface{} {
	out := map[string]interface{}{}
	if m.CampaignID != "" {
		out["campaignId"] = m.CampaignID
	}
	if m.ConsentGiven {
		out["consentGiven"] = true
	}
	if m.Locale != "" {
		out["locale"] = m.Locale
	}
	if len(m.Extra) > 0 {
		out["extra"] = m.Extra
	}
	return out
}
