package plan

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"
)

// snapshotShape mirrors Plan for schema reflection. Status stays a plain
// string here because ParseStatus accepts several spellings.
type snapshotShape struct {
	Steps []struct {
		Description string `json:"description" jsonschema:"description=What the step does"`
		Status      string `json:"status" jsonschema:"description=pending\\, in-progress or completed"`
		Detail      string `json:"detail,omitempty"`
	} `json:"steps" jsonschema:"description=Ordered plan steps"`
}

var (
	schemaOnce   sync.Once
	schemaJSON   []byte
	schemaLoader gojsonschema.JSONLoader
	schemaErr    error
)

func loadSchema() {
	schemaOnce.Do(func() {
		r := &jsonschema.Reflector{
			DoNotReference:            true,
			AllowAdditionalProperties: true,
		}
		s := r.Reflect(&snapshotShape{})
		s.Title = "plan"
		// gojsonschema only knows drafts up to 7
		s.Version = ""
		schemaJSON, schemaErr = json.MarshalIndent(s, "", "  ")
		if schemaErr != nil {
			schemaErr = errors.Wrap(schemaErr, "could not encode plan schema")
			return
		}
		schemaLoader = gojsonschema.NewBytesLoader(schemaJSON)
	})
}

// Schema returns the JSON schema used to validate plan snapshots.
func Schema() ([]byte, error) {
	loadSchema()
	return schemaJSON, schemaErr
}

// Validate checks a snapshot document against the plan schema.
func Validate(raw json.RawMessage) error {
	loadSchema()
	if schemaErr != nil {
		return schemaErr
	}
	res, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return errors.Wrap(err, "could not validate plan snapshot")
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return errors.Errorf("invalid plan snapshot: %s", strings.Join(msgs, "; "))
}
