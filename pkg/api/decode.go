package api

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/marmos91/dittosafe/pkg/config"
	"github.com/marmos91/dittosafe/pkg/errs"
	"github.com/marmos91/dittosafe/pkg/identity"
)

// decode unmarshals a JSON argument. An empty string yields the zero value.
func decode[T any](raw, what string) (T, error) {
	var v T
	if strings.TrimSpace(raw) == "" {
		return v, nil
	}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return v, errs.Wrap(errs.KindInvalidArgument, err, what, "malformed json")
	}
	return v, nil
}

// options decodes an option bag. "" and "{}" yield the defaults; unknown
// fields are rejected and the result is validated.
func options[T any](raw string) (T, error) {
	var v T
	if strings.TrimSpace(raw) == "" {
		return v, nil
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return v, errs.Wrap(errs.KindInvalidArgument, err, "options", "malformed options")
	}
	if err := config.Struct(&v); err != nil {
		return v, errs.Wrap(errs.KindInvalidArgument, err, "options", "invalid options")
	}
	return v, nil
}

// parseIdentity decodes an identity document and checks that its keys
// match its id.
func parseIdentity(raw string) (identity.Identity, error) {
	if strings.TrimSpace(raw) == "" {
		return identity.Identity{}, errs.New(errs.KindInvalidArgument, "identity", "identity is required")
	}
	id, err := decode[identity.Identity](raw, "identity")
	if err != nil {
		return identity.Identity{}, err
	}
	if err := id.Verify(); err != nil {
		return identity.Identity{}, err
	}
	return id, nil
}
