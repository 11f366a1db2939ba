package model

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	cue "cuelang.org/go/cue"
	cueerrors "cuelang.org/go/cue/errors"
)

// CueErrorDetail is one problem found in a config file.
type CueErrorDetail struct {
	Path    string // events.nats.url
	Code    string // missing_required | unknown_field | conflicting_values | invalid_enum | type_mismatch | validation_error
	Message string
	Pos     CueErrorPosition
}

func (c CueErrorDetail) Attr(name string) slog.Attr {
	return slog.GroupAttrs(
		name,
		slog.String("code", c.Code),
		slog.String("path", c.Path),
		slog.String("message", c.Message),
		slog.String("file", c.Pos.Filename),
		slog.Int("line", c.Pos.Line),
		slog.Int("column", c.Pos.Column),
	)
}

func (c CueErrorDetail) String() string {
	if c.Pos.Filename == "" {
		return c.Message
	}
	return fmt.Sprintf("%s:%d:%d: %s", c.Pos.Filename, c.Pos.Line, c.Pos.Column, c.Message)
}

type CueErrorPosition struct {
	Filename string
	Line     int
	Column   int
}

var (
	reIncomplete  = regexp.MustCompile(`(?i)incomplete value`)
	reNotAllowed  = regexp.MustCompile(`(?i)not allowed|unknown field`)
	reConflict    = regexp.MustCompile(`(?i)conflicting values|cannot unify|incompatible`)
	reExpectedGot = regexp.MustCompile(`(?i)expected .* got .*`)
	reEnum        = regexp.MustCompile(`(?i)must be one of|expected one of|empty disjunction`)
)

// CueErrDetails turns a LoadConfig error into a list of details, which can
// be logged one by one. Errors without a position are kept too, so nothing
// reported by CUE gets lost.
func CueErrDetails(err error) []CueErrorDetail {
	if err == nil {
		return nil
	}

	seen := make(map[string]struct{})
	var out []CueErrorDetail
	for _, e := range cueerrors.Errors(err) {
		raw, args := e.Msg()
		raw = fmt.Sprintf(raw, args...)
		path := normalizePath(e.Path())
		code, msg := classify(raw, path)
		if enum := enumHint(path); enum != "" {
			msg += ": " + enum
		}

		d := CueErrorDetail{
			Path:    path,
			Code:    code,
			Message: msg,
			Pos:     position(e),
		}
		key := d.String()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, d)
	}
	return out
}

// enumHint lists allowed values for fields defined as a disjunction of strings.
func enumHint(path string) string {
	if path == "" {
		return ""
	}
	v := schema.LookupPath(cue.ParsePath(path))
	if !v.Exists() {
		return ""
	}
	op, args := v.Expr()
	if op != cue.OrOp {
		return ""
	}
	var values []string
	for _, a := range args {
		if s, err := a.String(); err == nil {
			values = append(values, s)
		}
	}
	if len(values) == 0 {
		return ""
	}
	return "possible values (" + strings.Join(values, ",") + ")"
}

func position(err cueerrors.Error) CueErrorPosition {
	for _, p := range cueerrors.Positions(err) {
		if p.Filename() == "" {
			continue
		}
		return CueErrorPosition{
			Filename: p.Filename(),
			Line:     p.Line(),
			Column:   p.Column(),
		}
	}
	return CueErrorPosition{}
}

func normalizePath(p []string) string {
	if len(p) == 0 {
		return ""
	}
	// drop leading #Config
	if strings.HasPrefix(p[0], "#") {
		p = p[1:]
	}
	return strings.Join(p, ".")
}

func classify(raw, path string) (code, msg string) {
	field := path
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		field = path[i+1:]
	}
	switch {
	case reNotAllowed.MatchString(raw):
		return "unknown_field", fmt.Sprintf("Field %s is not allowed", field)
	case reIncomplete.MatchString(raw):
		return "missing_required", fmt.Sprintf("Field %s is required", field)
	case reEnum.MatchString(raw):
		return "invalid_enum", fmt.Sprintf("Field %s has invalid value", field)
	case reConflict.MatchString(raw):
		return "conflicting_values", fmt.Sprintf("Conflicting values for %s", field)
	case reExpectedGot.MatchString(raw):
		return "type_mismatch", fmt.Sprintf("Field %s has wrong type/value", field)
	default:
		return "validation_error", raw
	}
}
