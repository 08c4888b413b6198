// Package submission turns a purple agent's loosely typed response into a
// validated Submission. Validation is strict: nothing is coerced or clamped.
package submission

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// MalformedError reports the first structural problem found in a submission.
type MalformedError struct {
	Field  string
	Reason string
}

func (e *MalformedError) Error() string {
	if e.Field == "" {
		return "malformed submission: " + e.Reason
	}
	return fmt.Sprintf("malformed submission: %s: %s", e.Field, e.Reason)
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// Parse extracts the JSON object from an agent response and validates it.
func Parse(data []byte) (*Submission, error) {
	raw, err := ExtractJSON(string(data))
	if err != nil {
		return nil, &MalformedError{Reason: err.Error()}
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	var w wireSubmission
	if err := dec.Decode(&w); err != nil {
		return nil, decodeError(err)
	}
	if dec.More() {
		return nil, &MalformedError{Reason: "trailing data after submission object"}
	}
	if err := validate.Struct(&w); err != nil {
		return nil, validationError(err)
	}
	return w.toSubmission(), nil
}

// FromMap validates an already decoded mapping.
func FromMap(m map[string]any) (*Submission, error) {
	if m == nil {
		return nil, &MalformedError{Reason: "submission is empty"}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, &MalformedError{Reason: fmt.Sprintf("encoding submission: %v", err)}
	}
	return Parse(data)
}

// ExtractJSON returns the first JSON object in content. Markdown code fences
// and surrounding prose are tolerated.
func ExtractJSON(content string) ([]byte, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, errors.New("empty response")
	}
	if strings.HasPrefix(content, "{") && json.Valid([]byte(content)) {
		return []byte(content), nil
	}

	if i := strings.Index(content, "```"); i >= 0 {
		fenced := content[i+3:]
		fenced = strings.TrimPrefix(fenced, "json")
		if j := strings.Index(fenced, "```"); j >= 0 {
			fenced = strings.TrimSpace(fenced[:j])
			if json.Valid([]byte(fenced)) {
				return []byte(fenced), nil
			}
		}
	}

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, errors.New("no JSON object found in response")
	}
	candidate := content[start : end+1]
	if !json.Valid([]byte(candidate)) {
		return nil, errors.New("response does not contain a valid JSON object")
	}
	return []byte(candidate), nil
}

func decodeError(err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		field := typeErr.Field
		if field == "" {
			field = "submission"
		}
		return &MalformedError{
			Field:  field,
			Reason: fmt.Sprintf("wrong type: got %s, want %s", typeErr.Value, typeErr.Type),
		}
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return &MalformedError{Reason: fmt.Sprintf("invalid JSON at offset %d: %v", syntaxErr.Offset, err)}
	}
	return &MalformedError{Reason: err.Error()}
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &MalformedError{Reason: err.Error()}
	}
	fe := verrs[0]
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}
	var reason string
	switch fe.Tag() {
	case "required":
		reason = "missing required field"
	case "gte":
		reason = fmt.Sprintf("value %v below minimum %s", fe.Value(), fe.Param())
	case "lte":
		reason = fmt.Sprintf("value %v above maximum %s", fe.Value(), fe.Param())
	default:
		reason = fmt.Sprintf("failed %q check", fe.Tag())
	}
	return &MalformedError{Field: field, Reason: reason}
}
