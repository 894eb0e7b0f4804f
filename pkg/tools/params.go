package tools

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/developer-mesh/agent-hub/pkg/models"
	"github.com/developer-mesh/agent-hub/pkg/repository"
)

// Argument decoding helpers shared by the managers. The schemas already
// constrain formats; these produce ErrValidation-wrapped errors so a
// value the schema could not catch still maps to INVALID.

func parseUUID(field, value string) (uuid.UUID, error) {
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, errors.Wrapf(repository.ErrValidation, "%s must be a UUID", field)
	}
	return id, nil
}

func parseOptionalUUID(field, value string) (*uuid.UUID, error) {
	if value == "" {
		return nil, nil
	}
	id, err := parseUUID(field, value)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func parseTime(field, value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, errors.Wrapf(repository.ErrValidation, "%s must be RFC 3339", field)
	}
	return t, nil
}

func parseOptionalTime(field, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := parseTime(field, value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseUUIDList(field string, values []string) ([]uuid.UUID, error) {
	if values == nil {
		return nil, nil
	}
	out := make([]uuid.UUID, 0, len(values))
	for _, v := range values {
		id, err := parseUUID(field, v)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func parseLevel(field, value string) (models.ContextLevel, error) {
	level := models.ContextLevel(value)
	if !level.Valid() {
		return "", errors.Wrapf(repository.ErrValidation, "%s must be one of task, branch, project, global", field)
	}
	return level, nil
}

// decodeArgs unmarshals validated arguments into the handler's parameter
// struct. The schema has already rejected unknown fields and wrong types,
// so a failure here is a malformed value the schema admits, e.g. an
// overflowing integer.
func decodeArgs(args []byte, into interface{}) error {
	if err := json.Unmarshal(args, into); err != nil {
		return errors.Wrap(repository.ErrValidation, err.Error())
	}
	return nil
}
