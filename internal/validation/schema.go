// Package validation checks bus payloads against a JSON Schema before they
// are dispatched or consumed, catching a malformed publisher before it
// reaches a subscriber's unmarshal step.
package validation

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

const controlSignalSchemaJSON = `{
  "type": "object",
  "required": ["action", "userId", "timestamp"],
  "properties": {
    "action": {"type": "string", "enum": ["pause", "cancel"]},
    "userId": {"type": "string", "minLength": 1},
    "timestamp": {"type": "string"}
  }
}`

const statusEventSchemaJSON = `{
  "type": "object",
  "required": ["type", "jobId", "status"],
  "properties": {
    "type": {"type": "string"},
    "jobId": {"type": "string", "minLength": 1},
    "campaignId": {"type": "string"},
    "status": {"type": "string", "enum": ["queued", "processing", "paused", "cancelled", "completed", "failed"]},
    "progress": {"type": "integer", "minimum": 0, "maximum": 100},
    "totalLeads": {"type": "integer", "minimum": 0},
    "processedLeads": {"type": "integer", "minimum": 0},
    "currentLead": {"type": "string"},
    "fractionalProgress": {"type": "number"},
    "stage": {"type": "string"},
    "errorMessage": {"type": "string"},
    "timestamp": {"type": "string"}
  }
}`

var (
	controlSignalSchema = gojsonschema.NewStringLoader(controlSignalSchemaJSON)
	statusEventSchema    = gojsonschema.NewStringLoader(statusEventSchemaJSON)
)

// ValidateControlSignal checks a control-channel payload before PublishControl
// sends it and before a ControlSubscriber dispatches it to the worker.
func ValidateControlSignal(payload []byte) error {
	return validate(controlSignalSchema, payload)
}

// ValidateStatusEvent checks a status-channel payload at the same two points.
func ValidateStatusEvent(payload []byte) error {
	return validate(statusEventSchema, payload)
}

func validate(schema gojsonschema.JSONLoader, payload []byte) error {
	result, err := gojsonschema.Validate(schema, gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return fmt.Errorf("run schema validation: %w", err)
	}
	if !result.Valid() {
		return fmt.Errorf("payload failed schema validation: %s", result.Errors()[0].String())
	}
	return nil
}
