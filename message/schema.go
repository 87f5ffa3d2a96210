package message

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/controlbus/errors"
)

//go:embed component.schema.json
var componentSchemaJSON string

var (
	componentSchemaOnce sync.Once
	componentSchema     *gojsonschema.Schema
	componentSchemaErr  error
)

func loadComponentSchema() (*gojsonschema.Schema, error) {
	componentSchemaOnce.Do(func() {
		componentSchema, componentSchemaErr = gojsonschema.NewSchema(
			gojsonschema.NewStringLoader(componentSchemaJSON))
	})
	return componentSchema, componentSchemaErr
}

// ValidateComponentMessage checks a raw component message against the
// embedded declaration schema.
func ValidateComponentMessage(data []byte) error {
	schema, err := loadComponentSchema()
	if err != nil {
		return errors.WrapFatal(err, "Schema", "ValidateComponentMessage", "compile component schema")
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return errors.WrapInvalid(errors.ErrDecodeFailed, "Schema", "ValidateComponentMessage",
			fmt.Sprintf("load document: %v", err))
	}

	if !result.Valid() {
		var msg strings.Builder
		for i, desc := range result.Errors() {
			if i > 0 {
				msg.WriteString("; ")
			}
			fmt.Fprintf(&msg, "%s: %s", desc.Field(), desc.Description())
		}
		return errors.WrapInvalid(errors.ErrSchemaMismatch, "Schema", "ValidateComponentMessage",
			msg.String())
	}
	return nil
}
