package events

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var schemaCache sync.Map

// ParsePushApproval validates a raw push payload against the approval
// event schema and decodes it. Invalid payloads are rejected before any
// ledger state is touched.
func ParsePushApproval(raw []byte) (PushApproval, error) {
	if err := validateSchema("approval_event", raw); err != nil {
		return PushApproval{}, err
	}
	var p PushApproval
	if err := json.Unmarshal(raw, &p); err != nil {
		return PushApproval{}, err
	}
	return p, nil
}

// ParseSettingsChanged validates and decodes a settings-changed payload.
func ParseSettingsChanged(raw []byte) (SettingsChanged, error) {
	if err := validateSchema("settings_event", raw); err != nil {
		return SettingsChanged{}, err
	}
	var s SettingsChanged
	if err := json.Unmarshal(raw, &s); err != nil {
		return SettingsChanged{}, err
	}
	return s, nil
}

func validateSchema(name string, raw []byte) error {
	if len(raw) == 0 {
		return errors.New("empty payload")
	}
	schema, err := loadSchema(name)
	if err != nil {
		return err
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return err
	}
	if result.Valid() {
		return nil
	}
	if len(result.Errors()) == 0 {
		return errors.New("schema validation failed")
	}
	return fmt.Errorf("schema validation failed: %s", result.Errors()[0].String())
}

func loadSchema(name string) (*gojsonschema.Schema, error) {
	if cached, ok := schemaCache.Load(name); ok {
		return cached.(*gojsonschema.Schema), nil
	}
	data, err := schemaFS.ReadFile("schemas/" + name + ".json")
	if err != nil {
		return nil, err
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, err
	}
	schemaCache.Store(name, schema)
	return schema, nil
}
