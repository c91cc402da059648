package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"

	"github.com/roach88/parsekit/internal/value"
)

// LoadDir loads every .cue file in dir as one CUE instance and compiles each
// entry under the top-level "model" struct:
//
//	model: Post: {
//	    class: "Post"                  // optional, defaults to the label
//	    fields: {
//	        title:    "string"         // type name as a string...
//	        body:     string           // ...or a CUE type
//	        location: "geopoint"
//	    }
//	    validates: {
//	        presence:  ["title"]
//	        length:    title: {min: 3, max: 100}
//	        format:    slug: "^[a-z0-9-]+$"
//	        inclusion: status: ["draft", "published"]
//	    }
//	}
//
// The user class must use a visible label with an explicit class, since CUE
// hides labels that start with an underscore: model: User: {class: "_User"}.
func LoadDir(dir string) ([]*Model, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("models directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", dir)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "*.cue"))
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no CUE files found in %s", dir)
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, &DefinitionError{Field: "cue", Message: "no CUE instances loaded", Code: ErrCodeCUE}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, formatCUEError(inst.Err)
	}

	ctx := cuecontext.New()
	root := ctx.BuildInstance(inst)
	if err := root.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return compileModels(root)
}

// CompileSource compiles CUE source text holding a "model" struct.
func CompileSource(src, filename string) ([]*Model, error) {
	ctx := cuecontext.New()
	root := ctx.CompileString(src, cue.Filename(filename))
	if err := root.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return compileModels(root)
}

// compileModels compiles every entry of root's "model" struct.
func compileModels(root cue.Value) ([]*Model, error) {
	modelsVal := root.LookupPath(cue.ParsePath("model"))
	if !modelsVal.Exists() {
		return nil, &DefinitionError{Field: "model", Message: "no model struct found", Code: ErrCodeCUE, Pos: root.Pos()}
	}

	iter, err := modelsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var models []*Model
	for iter.Next() {
		m, err := CompileModel(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		models = append(models, m)
	}
	return models, nil
}

// CompileModel compiles one model struct. label is used as the class name
// unless the struct sets "class".
func CompileModel(label string, v cue.Value) (*Model, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	className := label
	if classVal := v.LookupPath(cue.ParsePath("class")); classVal.Exists() {
		s, err := classVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		className = s
	}

	fields, err := parseFields(className, v)
	if err != nil {
		return nil, err
	}

	rules, err := parseRules(className, v)
	if err != nil {
		return nil, err
	}

	var m *Model
	if className == UserClassName {
		m, err = UserModel(withoutUserFields(fields), rules...)
	} else {
		m, err = NewModel(className, fields, rules...)
	}
	if err != nil {
		if defErr, ok := err.(*DefinitionError); ok && !defErr.Pos.IsValid() {
			defErr.Pos = v.Pos()
		}
		return nil, err
	}
	return m, nil
}

// withoutUserFields drops fields UserModel always declares.
func withoutUserFields(fields []Field) []Field {
	return slices.DeleteFunc(slices.Clone(fields), func(f Field) bool {
		return f.Name == FieldUsername || f.Name == FieldPassword || f.Name == FieldEmail
	})
}

// parseFields extracts field declarations in source order.
func parseFields(className string, v cue.Value) ([]Field, error) {
	fieldsVal := v.LookupPath(cue.ParsePath("fields"))
	if !fieldsVal.Exists() {
		return nil, nil // a model without fields is allowed
	}

	iter, err := fieldsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var fields []Field
	for iter.Next() {
		ft, err := extractFieldType(className, iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		fields = append(fields, Field{Name: iter.Label(), Type: ft})
	}
	return fields, nil
}

// extractFieldType accepts either a type name string or a CUE type.
func extractFieldType(className, field string, v cue.Value) (FieldType, error) {
	if s, err := v.String(); err == nil {
		ft := FieldType(s)
		if !ValidFieldTypes[ft] {
			return "", &DefinitionError{
				Class:   className,
				Field:   field,
				Message: fmt.Sprintf("unknown field type %q", s),
				Code:    ErrCodeFieldType,
				Pos:     v.Pos(),
			}
		}
		return ft, nil
	}

	switch v.IncompleteKind() {
	case cue.StringKind:
		return TypeString, nil
	case cue.IntKind, cue.FloatKind, cue.NumberKind:
		return TypeNumber, nil
	case cue.BoolKind:
		return TypeBoolean, nil
	case cue.ListKind:
		return TypeArray, nil
	case cue.StructKind:
		return TypeObject, nil
	case cue.TopKind:
		return TypeAny, nil
	default:
		return "", &DefinitionError{
			Class:   className,
			Field:   field,
			Message: fmt.Sprintf("unsupported type kind: %v", v.IncompleteKind()),
			Code:    ErrCodeFieldType,
			Pos:     v.Pos(),
		}
	}
}

// parseRules extracts the validates block. Rules are emitted in a fixed
// order: presence, length, format, inclusion.
func parseRules(className string, v cue.Value) ([]Rule, error) {
	validates := v.LookupPath(cue.ParsePath("validates"))
	if !validates.Exists() {
		return nil, nil
	}

	var rules []Rule

	if presence := validates.LookupPath(cue.ParsePath("presence")); presence.Exists() {
		list, err := presence.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for list.Next() {
			name, err := list.Value().String()
			if err != nil {
				return nil, formatCUEError(err)
			}
			rules = append(rules, Presence{FieldName: name})
		}
	}

	if length := validates.LookupPath(cue.ParsePath("length")); length.Exists() {
		iter, err := length.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			rule := Length{FieldName: iter.Label()}
			if minVal := iter.Value().LookupPath(cue.ParsePath("min")); minVal.Exists() {
				n, err := minVal.Int64()
				if err != nil {
					return nil, formatCUEError(err)
				}
				rule.Min = int(n)
			}
			if maxVal := iter.Value().LookupPath(cue.ParsePath("max")); maxVal.Exists() {
				n, err := maxVal.Int64()
				if err != nil {
					return nil, formatCUEError(err)
				}
				rule.Max = int(n)
			}
			rules = append(rules, rule)
		}
	}

	if format := validates.LookupPath(cue.ParsePath("format")); format.Exists() {
		iter, err := format.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			pattern, err := iter.Value().String()
			if err != nil {
				return nil, formatCUEError(err)
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, &DefinitionError{
					Class:   className,
					Field:   iter.Label(),
					Message: fmt.Sprintf("invalid format pattern: %v", err),
					Code:    ErrCodeRule,
					Pos:     iter.Value().Pos(),
				}
			}
			rules = append(rules, Format{FieldName: iter.Label(), Pattern: re})
		}
	}

	if inclusion := validates.LookupPath(cue.ParsePath("inclusion")); inclusion.Exists() {
		iter, err := inclusion.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			allowed, err := parseLiterals(iter.Value())
			if err != nil {
				return nil, err
			}
			rules = append(rules, Inclusion{FieldName: iter.Label(), In: allowed})
		}
	}

	return rules, nil
}

// parseLiterals converts a CUE list of scalars into values.
func parseLiterals(v cue.Value) ([]value.Value, error) {
	list, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var out []value.Value
	for list.Next() {
		elem := list.Value()
		switch elem.Kind() {
		case cue.StringKind:
			s, _ := elem.String()
			out = append(out, value.String(s))
		case cue.IntKind, cue.FloatKind, cue.NumberKind:
			f, err := elem.Float64()
			if err != nil {
				return nil, formatCUEError(err)
			}
			out = append(out, value.Number(f))
		case cue.BoolKind:
			b, _ := elem.Bool()
			out = append(out, value.Bool(b))
		default:
			return nil, &DefinitionError{
				Field:   "inclusion",
				Message: fmt.Sprintf("unsupported literal kind: %v", elem.Kind()),
				Code:    ErrCodeRule,
				Pos:     elem.Pos(),
			}
		}
	}
	return out, nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &DefinitionError{
			Field:   "cue",
			Message: first.Error(),
			Code:    ErrCodeCUE,
			Pos:     positions[0],
		}
	}
	return err
}
