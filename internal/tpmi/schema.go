package tpmi

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v2"
)

const specSchema = `{
  "$schema": "http://json-schema.org/draft-04/schema#",
  "type": "object",
  "required": ["name", "desc", "feature_id", "registers"],
  "additionalProperties": false,
  "properties": {
    "name": {"type": "string", "pattern": "^[a-z0-9_]+$"},
    "desc": {"type": "string"},
    "feature_id": {"type": "integer", "minimum": 0, "maximum": 255},
    "die_map": {"enum": ["instance", "instance+cluster"]},
    "clusters": {
      "type": "object",
      "required": ["mask", "offsets", "unit"],
      "additionalProperties": false,
      "properties": {
        "mask": {
          "type": "object",
          "required": ["register", "field"],
          "additionalProperties": false,
          "properties": {
            "register": {"type": "string"},
            "field": {"type": "string"}
          }
        },
        "offsets": {"type": "string"},
        "unit": {"type": "integer", "minimum": 1}
      }
    },
    "registers": {
      "type": "object",
      "minProperties": 1,
      "additionalProperties": false,
      "patternProperties": {
        "^[A-Z0-9_]+$": {"$ref": "#/definitions/register"}
      }
    }
  },
  "definitions": {
    "register": {
      "type": "object",
      "required": ["offset", "width", "fields"],
      "additionalProperties": false,
      "properties": {
        "offset": {"type": "integer", "minimum": 0},
        "width": {"enum": [32, 64]},
        "header": {"type": "boolean"},
        "fields": {
          "type": "object",
          "minProperties": 1,
          "additionalProperties": false,
          "patternProperties": {
            "^[A-Z0-9_]+$": {"$ref": "#/definitions/field"}
          }
        }
      }
    },
    "field": {
      "type": "object",
      "required": ["bits", "readonly", "desc"],
      "additionalProperties": false,
      "properties": {
        "bits": {"type": "string", "pattern": "^[0-9]+:[0-9]+$"},
        "readonly": {"type": "boolean"},
        "desc": {"type": "string", "pattern": "^[^\n]*$"}
      }
    }
  }
}`

var specSchemaLoader = gojsonschema.NewStringLoader(specSchema)

// validateSpec checks spec file contents against the spec file schema.
func validateSpec(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}
	result, err := gojsonschema.Validate(specSchemaLoader, gojsonschema.NewGoLoader(jsonCompatible(doc)))
	if err != nil {
		return err
	}
	if result.Valid() {
		return nil
	}
	var msgs []string
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("schema validation failed: %s", strings.Join(msgs, "; "))
}

// jsonCompatible converts the map[interface{}]interface{} values yaml.v2 produces into
// map[string]interface{} so the document can be marshaled to JSON.
func jsonCompatible(v any) any {
	switch v := v.(type) {
	case map[any]any:
		m := make(map[string]any, len(v))
		for key, value := range v {
			m[fmt.Sprint(key)] = jsonCompatible(value)
		}
		return m
	case []any:
		for i := range v {
			v[i] = jsonCompatible(v[i])
		}
		return v
	}
	return v
}
