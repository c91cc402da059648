package cli

import (
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/url"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/parsekit/internal/config"
	"github.com/roach88/parsekit/internal/orm"
	"github.com/roach88/parsekit/internal/query"
	"github.com/roach88/parsekit/internal/schema"
)

// newLogger returns a text logger on w; --verbose enables debug output.
func newLogger(opts *RootOptions, w io.Writer) *slog.Logger {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	}))
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// loadRegistry compiles the CUE models in dir. The user class is always
// registered so login works without declaring it.
func loadRegistry(dir string) (*schema.Registry, error) {
	models, err := schema.LoadDir(dir)
	if err != nil {
		return nil, err
	}
	if !slices.ContainsFunc(models, (*schema.Model).IsUser) {
		user, err := schema.UserModel(nil)
		if err != nil {
			return nil, err
		}
		models = append(models, user)
	}
	return schema.NewRegistry(models...)
}

// openClient loads configuration and models and builds a client.
func openClient(opts *RootOptions, cmd *cobra.Command) (*orm.Client, error) {
	logger := newLogger(opts, cmd.ErrOrStderr())

	cfg, err := config.Load(opts.ConfigPath, opts.Environment)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}

	registry, err := loadRegistry(opts.ModelsDir)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load models", err)
	}
	logger.Debug("models loaded", "dir", opts.ModelsDir, "classes", registry.ClassNames())

	client, err := orm.NewClient(cfg, registry, orm.WithLogger(logger))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create client", err)
	}
	return client, nil
}

// applyWhere adds the constraints of a where JSON document, in the same
// grammar the service accepts, to q.
func applyWhere(q orm.Query, where string) (orm.Query, error) {
	if where == "" {
		return q, nil
	}
	c, err := query.Decode(q.Criteria().ClassName(), url.Values{query.ParamWhere: {where}})
	if err != nil {
		return q, fmt.Errorf("--where: %w", err)
	}

	constraints := c.Constraints()
	for _, field := range slices.Sorted(maps.Keys(constraints)) {
		switch con := constraints[field].(type) {
		case query.Equals:
			q = q.Where(field, con.Value)
		case query.Exists:
			q = q.WhereExists(field, con.Present)
		case query.NearSphere:
			q = q.WhereNear(field, con.Point, con.MaxDistance, con.Unit)
		case query.WithinBox:
			q = q.WhereWithinBox(field, con.SouthWest, con.NorthEast)
		}
	}
	return q, nil
}
