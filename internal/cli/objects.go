package cli

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/parsekit/internal/orm"
	"github.com/roach88/parsekit/internal/schema"
	"github.com/roach88/parsekit/internal/value"
)

// NewFindCommand creates the find command.
func NewFindCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "find <class> <object-id>",
		Short: "Fetch one object by id",
		Example: `  parsekit find Post xWMyZ4YEGZ
  parsekit find _User xWMyZ4YEGZ --format json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := openClient(rootOpts, cmd)
			if err != nil {
				return err
			}
			out := newFormatter(rootOpts, cmd)

			rec, err := client.Find(cmd.Context(), args[0], args[1])
			if err != nil {
				return out.Fail("find failed", err)
			}
			return out.Success(rec.Object())
		},
	}
}

// QueryOptions holds flags for the query and count commands.
type QueryOptions struct {
	*RootOptions
	Where   string
	Order   []string
	Limit   int
	Skip    int
	Page    int
	Per     int
	Include []string
	Keys    []string
}

func (o *QueryOptions) build(client *orm.Client, className string, cmd *cobra.Command) (orm.Query, error) {
	q, err := applyWhere(client.Query(className), o.Where)
	if err != nil {
		return q, err
	}
	if len(o.Order) > 0 {
		q = q.Order(o.Order...)
	}
	if cmd.Flags().Changed("limit") {
		q = q.Limit(o.Limit)
	}
	if o.Skip > 0 {
		q = q.Skip(o.Skip)
	}
	if o.Page > 0 {
		q = q.Page(o.Page)
	}
	if o.Per > 0 {
		q = q.Per(o.Per)
	}
	if len(o.Include) > 0 {
		q = q.Include(o.Include...)
	}
	if len(o.Keys) > 0 {
		q = q.Keys(o.Keys...)
	}
	return q, nil
}

func addWhereFlag(cmd *cobra.Command, opts *QueryOptions) {
	cmd.Flags().StringVarP(&opts.Where, "where", "w", "", `constraints as JSON, e.g. '{"author":"Arrington"}'`)
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query <class>",
		Short: "List objects matching constraints",
		Long: `List objects of a class, one JSON object per line.

--where takes the constraint JSON the REST API uses: plain values for
equality, {"$exists": true}, {"$nearSphere": <GeoPoint>} with an optional
$maxDistanceInMiles/$maxDistanceInKilometers/$maxDistanceInRadians, and
{"$within": {"$box": [<southwest>, <northeast>]}}.`,
		Example: `  parsekit query Post --where '{"author":"Arrington"}' --order -createdAt --limit 10
  parsekit query Post --per 20 --page 3 --keys title,author`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := openClient(rootOpts, cmd)
			if err != nil {
				return err
			}
			out := newFormatter(rootOpts, cmd)

			q, err := opts.build(client, args[0], cmd)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid query", err)
			}
			records, err := q.All(cmd.Context())
			if err != nil {
				return out.Fail("query failed", err)
			}

			objects := make([]value.Object, len(records))
			for i, rec := range records {
				objects[i] = rec.Object()
			}
			out.VerboseLog("%d results", len(objects))
			return out.Success(objects)
		},
	}

	addWhereFlag(cmd, opts)
	cmd.Flags().StringSliceVarP(&opts.Order, "order", "o", nil, "sort keys; prefix with - for descending")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "l", 0, "maximum number of results")
	cmd.Flags().IntVar(&opts.Skip, "skip", 0, "number of results to skip")
	cmd.Flags().IntVar(&opts.Page, "page", 0, "page number (1-based), with --per")
	cmd.Flags().IntVar(&opts.Per, "per", 0, "results per page")
	cmd.Flags().StringSliceVar(&opts.Include, "include", nil, "pointer fields to expand")
	cmd.Flags().StringSliceVar(&opts.Keys, "keys", nil, "fields to return")

	return cmd
}

// NewCountCommand creates the count command.
func NewCountCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:     "count <class>",
		Short:   "Count objects matching constraints",
		Example: `  parsekit count Post --where '{"author":"Arrington"}'`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := openClient(rootOpts, cmd)
			if err != nil {
				return err
			}
			out := newFormatter(rootOpts, cmd)

			q, err := opts.build(client, args[0], cmd)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid query", err)
			}
			n, err := q.Count(cmd.Context())
			if err != nil {
				return out.Fail("count failed", err)
			}
			if rootOpts.Format == "json" {
				return out.Success(map[string]int{"count": n})
			}
			return out.Success(n)
		},
	}

	addWhereFlag(cmd, opts)
	return cmd
}

// CreateOptions holds flags for the create command.
type CreateOptions struct {
	*RootOptions
	Data string
	Sets []string
}

// fields merges --data and --set into one attribute object. --set values
// are parsed by the declared type of their field; undeclared fields are kept
// so that Set reports them.
func (o *CreateOptions) fields(m *schema.Model) (value.Object, error) {
	obj := value.Object{}
	if o.Data != "" {
		decoded, err := value.DecodeObject([]byte(o.Data))
		if err != nil {
			return nil, fmt.Errorf("--data: %w", err)
		}
		maps.Copy(obj, decoded)
	}
	for _, kv := range o.Sets {
		name, raw, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("--set %q: expected field=value", kv)
		}
		f, ok := m.Field(name)
		if !ok {
			f = schema.Field{Name: name, Type: schema.TypeAny}
		}
		v, err := schema.ParseInput(f, raw)
		if err != nil {
			return nil, fmt.Errorf("--set: %w", err)
		}
		obj[name] = v
	}
	return obj, nil
}

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CreateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "create <class>",
		Short: "Validate and save a new object",
		Long: `Validate and save a new object. Validation failures are reported
without contacting the service. Creating a _User signs the user up.

--set values are read according to the field's declared type: numbers,
true/false, RFC 3339 dates, "lat,lon" geopoints, "Class:objectId"
pointers and JSON for arrays and objects.`,
		Example: `  parsekit create Post --set title=Hello --set author=Arrington
  parsekit create Place --set name=HQ --set location=40,-30
  parsekit create Place --data '{"name":"HQ","location":{"__type":"GeoPoint","latitude":40,"longitude":-30}}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := openClient(rootOpts, cmd)
			if err != nil {
				return err
			}
			out := newFormatter(rootOpts, cmd)

			rec, err := client.New(args[0])
			if err != nil {
				return out.Fail("create failed", err)
			}
			fields, err := opts.fields(rec.Model())
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid fields", err)
			}
			for _, name := range slices.Sorted(maps.Keys(fields)) {
				if err := rec.Set(name, fields[name]); err != nil {
					return out.Fail("create failed", err)
				}
			}
			if err := rec.Save(cmd.Context()); err != nil {
				return out.Fail("create failed", err)
			}
			out.VerboseLog("created %s %s", rec.ClassName(), rec.ID())
			return out.Success(rec.Object())
		},
	}

	cmd.Flags().StringVarP(&opts.Data, "data", "d", "", "fields as a JSON object")
	cmd.Flags().StringArrayVarP(&opts.Sets, "set", "s", nil, "field=value (repeatable)")

	return cmd
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <class> <object-id>",
		Short:   "Destroy one object",
		Example: `  parsekit delete Post xWMyZ4YEGZ`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := openClient(rootOpts, cmd)
			if err != nil {
				return err
			}
			out := newFormatter(rootOpts, cmd)

			rec, err := client.Find(cmd.Context(), args[0], args[1])
			if err != nil {
				return out.Fail("delete failed", err)
			}
			if err := rec.Destroy(cmd.Context()); err != nil {
				return out.Fail("delete failed", err)
			}
			if rootOpts.Format == "json" {
				return out.Success(map[string]string{"deleted": args[1]})
			}
			return out.Success(fmt.Sprintf("deleted %s %s", args[0], args[1]))
		},
	}
}
