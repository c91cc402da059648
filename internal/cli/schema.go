package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/parsekit/internal/schema"
)

// ModelInfo describes one model for the schema command.
type ModelInfo struct {
	Class  string      `json:"class"`
	Fields []FieldInfo `json:"fields"`
	Rules  []RuleInfo  `json:"rules,omitempty"`
}

// FieldInfo is one declared field.
type FieldInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// RuleInfo is one validation rule.
type RuleInfo struct {
	Kind  string `json:"kind"`
	Field string `json:"field"`
}

func describeModel(m *schema.Model) ModelInfo {
	fields := m.Fields()
	info := ModelInfo{Class: m.ClassName, Fields: make([]FieldInfo, len(fields))}
	for i, f := range fields {
		info.Fields[i] = FieldInfo{Name: f.Name, Type: string(f.Type)}
	}
	for _, r := range m.Rules() {
		info.Rules = append(info.Rules, RuleInfo{Kind: r.Kind(), Field: r.Field()})
	}
	return info
}

// NewSchemaCommand creates the schema command.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schema [class...]",
		Short: "Show the compiled models",
		Long: `Compile the CUE models in --models and show each class with its
fields and validation rules. No request is sent.`,
		Example: `  parsekit schema --models ./models
  parsekit schema Post --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := loadRegistry(rootOpts.ModelsDir)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load models", err)
			}
			out := newFormatter(rootOpts, cmd)

			classes := args
			if len(classes) == 0 {
				classes = registry.ClassNames()
			}
			infos := make([]ModelInfo, 0, len(classes))
			for _, class := range classes {
				m, ok := registry.Lookup(class)
				if !ok {
					return WrapExitError(ExitCommandError, "unknown class "+class, nil)
				}
				infos = append(infos, describeModel(m))
			}

			if rootOpts.Format == "json" {
				return out.Success(infos)
			}
			return out.Success(formatModels(infos))
		},
	}
}

// formatModels renders models as indented text:
//
//	Post
//	  title   string
//	  presence(title)
func formatModels(infos []ModelInfo) string {
	var buf strings.Builder
	for i, info := range infos {
		if i > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(info.Class)
		buf.WriteByte('\n')

		width := 0
		for _, f := range info.Fields {
			width = max(width, len(f.Name))
		}
		for _, f := range info.Fields {
			fmt.Fprintf(&buf, "  %-*s  %s\n", width, f.Name, f.Type)
		}
		for _, r := range info.Rules {
			fmt.Fprintf(&buf, "  %s(%s)\n", r.Kind, r.Field)
		}
	}
	return strings.TrimSuffix(buf.String(), "\n")
}
