package notify

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed event.schema.json
var eventSchemaJSON string

// ErrInvalidEvent marks an event that does not match the published contract.
var ErrInvalidEvent = errors.New("invalid notification event")

var eventSchema = jsonschema.MustCompileString("https://marketplace.local/schemas/event.v1.json", eventSchemaJSON)

// ValidateEventJSON checks an encoded event against the v1 event schema that
// broker consumers rely on.
func ValidateEventJSON(raw []byte) error {
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if err := eventSchema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return nil
}
