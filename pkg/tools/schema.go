package tools

// Property helpers for the action schemas. Every action schema is a
// closed object: any key outside the declared set fails validation.

func pString(description string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": description}
}

func pUUID(description string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "format": "uuid", "description": description}
}

func pEnum(description string, values ...string) map[string]interface{} {
	enum := make([]interface{}, len(values))
	for i, v := range values {
		enum[i] = v
	}
	return map[string]interface{}{"type": "string", "enum": enum, "description": description}
}

func pBool(description string) map[string]interface{} {
	return map[string]interface{}{"type": "boolean", "description": description}
}

func pInt(description string) map[string]interface{} {
	return map[string]interface{}{"type": "integer", "description": description}
}

func pNumber(description string) map[string]interface{} {
	return map[string]interface{}{"type": "number", "description": description}
}

func pTime(description string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "format": "date-time", "description": description}
}

// pObject admits any JSON object. Context payloads stay open on purpose:
// unknown keys inside them are preserved verbatim.
func pObject(description string) map[string]interface{} {
	return map[string]interface{}{"type": "object", "description": description}
}

func pStringArray(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "array",
		"items":       map[string]interface{}{"type": "string"},
		"description": description,
	}
}

func pUUIDArray(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "array",
		"items":       map[string]interface{}{"type": "string", "format": "uuid"},
		"description": description,
	}
}

// actionSchema assembles the full closed schema for one action: the
// provider's params plus the action discriminator, plus idempotency_key
// on mutating actions.
func actionSchema(a Action) map[string]interface{} {
	props := make(map[string]interface{}, len(a.Params)+2)
	for k, v := range a.Params {
		props[k] = v
	}
	props["action"] = map[string]interface{}{
		"type": "string",
		"enum": []interface{}{a.Name},
	}
	if a.Mutating {
		props["idempotency_key"] = pString("caller-chosen key for exact-repeat replay")
	}
	required := append([]string{"action"}, a.Required...)
	return map[string]interface{}{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}
