// Package schema validates untrusted meal data: model output shaped as a
// MealAnalysis and client-submitted meal payloads. Both shapes share the
// food, portion and category primitives and report every failing field.
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	_ "time/tzdata" // IANA zone validation must not depend on the host's zoneinfo

	"github.com/go-playground/validator/v10"

	"mcp-food-log/internal/models"
)

// FieldError names one field that failed validation and why.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// SchemaError lists every field of a document that failed validation.
type SchemaError struct {
	Errors []FieldError `json:"errors"`
}

func (e *SchemaError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		parts = append(parts, fmt.Sprintf("%s %s", fe.Field, fe.Reason))
	}
	return "schema validation failed: " + strings.Join(parts, "; ")
}

// Has reports whether field is among the failures.
func (e *SchemaError) Has(field string) bool {
	for _, fe := range e.Errors {
		if fe.Field == field {
			return true
		}
	}
	return false
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func engine() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return strings.ToLower(fld.Name[:1]) + fld.Name[1:]
			}
			return name
		})
		if err := v.RegisterValidation("foodcategory", func(fl validator.FieldLevel) bool {
			return models.FoodCategory(fl.Field().String()).Valid()
		}); err != nil {
			panic(fmt.Sprintf("schema: register foodcategory: %v", err))
		}
		validate = v
	})
	return validate
}

// check runs struct validation and converts failures into field errors.
func check(doc any) []FieldError {
	err := engine().Struct(doc)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []FieldError{{Field: "(root)", Reason: err.Error()}}
	}
	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{Field: fieldPath(fe.Namespace()), Reason: reason(fe)})
	}
	return out
}

// decode fills doc from raw one field at a time so that every type
// mismatch is reported under its indexed path. Malformed JSON or a
// non-object document stops validation.
func decode(raw []byte, doc any) ([]FieldError, bool) {
	if !json.Valid(raw) {
		var v any
		err := json.Unmarshal(raw, &v)
		return []FieldError{{Field: "(root)", Reason: "invalid JSON: " + err.Error()}}, false
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return []FieldError{{Field: "(root)", Reason: "must be a JSON object"}}, false
	}
	return decodeValue("", raw, reflect.ValueOf(doc).Elem()), true
}

func decodeValue(path string, raw json.RawMessage, dst reflect.Value) []FieldError {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil
	}

	switch dst.Kind() {
	case reflect.Pointer:
		elem := reflect.New(dst.Type().Elem())
		errs := decodeValue(path, raw, elem.Elem())
		// a mistyped leaf stays nil so only the type error is reported
		if len(errs) == 0 || elem.Elem().Kind() == reflect.Struct {
			dst.Set(elem)
		}
		return errs

	case reflect.Struct:
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return []FieldError{{Field: path, Reason: "must be an object"}}
		}
		var errs []FieldError
		t := dst.Type()
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if !f.IsExported() || name == "-" {
				continue
			}
			if name == "" {
				name = f.Name
			}
			v, ok := lookupKey(obj, name)
			if !ok {
				continue
			}
			errs = append(errs, decodeValue(joinPath(path, name), v, dst.Field(i))...)
		}
		return errs

	case reflect.Slice:
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return []FieldError{{Field: path, Reason: "must be a list"}}
		}
		out := reflect.MakeSlice(dst.Type(), len(items), len(items))
		var errs []FieldError
		for i, item := range items {
			errs = append(errs, decodeValue(fmt.Sprintf("%s[%d]", path, i), item, out.Index(i))...)
		}
		dst.Set(out)
		return errs

	default:
		if err := json.Unmarshal(raw, dst.Addr().Interface()); err != nil {
			return []FieldError{{Field: path, Reason: "must be a " + jsonKind(dst.Type())}}
		}
		return nil
	}
}

// lookupKey matches object keys the way encoding/json does: exact first,
// then case-insensitively.
func lookupKey(obj map[string]json.RawMessage, name string) (json.RawMessage, bool) {
	if v, ok := obj[name]; ok {
		return v, true
	}
	for k, v := range obj {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return nil, false
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}

// merge appends validator failures to decode failures, dropping those for
// fields whose decoding already failed.
func merge(decoded, checked []FieldError) []FieldError {
	out := decoded
	for _, fe := range checked {
		covered := false
		for _, d := range decoded {
			if fe.Field == d.Field || strings.HasPrefix(fe.Field, d.Field+".") || strings.HasPrefix(fe.Field, d.Field+"[") {
				covered = true
				break
			}
		}
		if !covered {
			out = append(out, fe)
		}
	}
	return out
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at most %s characters", fe.Param())
		}
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "foodcategory":
		return fmt.Sprintf("%q is not a known food category", fe.Value())
	case "timezone":
		return "must be a valid IANA time zone"
	case "datetime":
		return "must be an ISO-8601 timestamp"
	default:
		return "failed " + fe.Tag() + " check"
	}
}

func jsonKind(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Int, reflect.Int32, reflect.Int64, reflect.Uint, reflect.Uint32, reflect.Uint64:
		return "whole number"
	case reflect.String:
		return "string"
	case reflect.Slice, reflect.Array:
		return "list"
	case reflect.Bool:
		return "boolean"
	default:
		return "object"
	}
}
