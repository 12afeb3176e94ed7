// Command daoctl reads and deletes records through Daos declared in a
// definitions file and prints them as JSON.
//
//	daoctl [-config file] [-v] <command> <dao> [args]
//
// Commands:
//
//	daos                          list declared Daos
//	get <dao> <id>                one record by id
//	find <dao> <cond>...          first record matching all conditions
//	list [-sort s] [-offset n] [-limit n] <dao> [<cond>...]
//	count <dao> [<cond>...]
//	delete <dao> <id>
//
// A condition is attribute, operator and value without spaces, e.g.
// "age>=18", "name~Ri%" (LIKE) or "deleted=null".
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	rw "github.com/enyo/rincewind-sub000"
	"github.com/enyo/rincewind-sub000/dynamodriver"
	"github.com/enyo/rincewind-sub000/filedriver"
	"github.com/enyo/rincewind-sub000/internal/config"
	"github.com/enyo/rincewind-sub000/sqldriver"
)

func main() {
	configPath := flag.String("config", "", "config file (default: $DAOCTL_CONFIG, ./daoctl.yaml, ~/.config/daoctl/config.yaml)")
	verbose := flag.Bool("v", false, "log every backing-resource call")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}
	if err := run(context.Background(), *configPath, *verbose, flag.Args(), os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "daoctl:", err)
		if rw.IsNotFound(err) {
			os.Exit(3)
		}
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(flag.CommandLine.Output(), "usage: daoctl [-config file] [-v] daos|get|find|list|count|delete <dao> [args]")
	flag.PrintDefaults()
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, _, err := config.LoadFromPath(path)
		return cfg, err
	}
	cfg, _, err := config.Load()
	return cfg, err
}

func run(ctx context.Context, configPath string, verbose bool, args []string, out io.Writer) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	var logger rw.Logger = rw.StdLogger{}
	if verbose || cfg.Verbose {
		logger = rw.VerboseLogger{}
	}

	driver, closeFn, err := openDriver(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeFn()

	reg := rw.NewRegistry(driver, logger)
	if err := loadDefinitions(reg, cfg.Definitions); err != nil {
		return err
	}
	return dispatch(ctx, reg, args, out)
}

// openDriver builds the configured backing resource.
func openDriver(ctx context.Context, cfg *config.Config, logger rw.Logger) (rw.Driver, func(), error) {
	newID, err := cfg.NewID()
	if err != nil {
		return nil, nil, err
	}
	switch cfg.Driver {
	case config.DriverSQLite, config.DriverPostgres:
		d, err := sqldriver.Open(ctx, cfg.Driver, cfg.DSN, logger)
		if err != nil {
			return nil, nil, err
		}
		return d, func() { _ = d.Close() }, nil
	case config.DriverFile:
		d, err := filedriver.Open(cfg.Dir, cfg.Format, filedriver.Options{Logger: logger, NewID: newID})
		if err != nil {
			return nil, nil, err
		}
		return d, func() {}, nil
	case config.DriverDynamoDB:
		client := dynamodriver.NewClient(dynamodriver.ClientConfig{
			Region:   cfg.DynamoDB.Region,
			Endpoint: cfg.DynamoDB.Endpoint,
		})
		d, err := dynamodriver.New(client, dynamodriver.Options{
			Table:    cfg.DynamoDB.Table,
			IsoDates: cfg.DynamoDB.IsoDates,
			Logger:   logger,
			NewID:    newID,
		})
		if err != nil {
			return nil, nil, err
		}
		return d, func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown driver %q", cfg.Driver)
}

func loadDefinitions(reg *rw.Registry, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open definitions: %w", err)
	}
	defer f.Close()
	defs, err := rw.LoadDefinitions(f)
	if err != nil {
		return err
	}
	return reg.Define(defs...)
}

// ─── Commands ───────────────────────────────────────────────────────────────

var errUsage = errors.New("invalid arguments, see daoctl -h")

func dispatch(ctx context.Context, reg *rw.Registry, args []string, out io.Writer) error {
	cmd, args := args[0], args[1:]
	if cmd == "daos" {
		return printJSON(out, reg.Names())
	}

	var params rw.Params
	if cmd == "list" {
		fs := flag.NewFlagSet("list", flag.ContinueOnError)
		sortSpec := fs.String("sort", "", `sort spec, e.g. "name, age DESC"`)
		fs.IntVar(&params.Offset, "offset", 0, "rows to skip")
		fs.IntVar(&params.Limit, "limit", 0, "maximum rows, 0 for all")
		if err := fs.Parse(args); err != nil {
			return err
		}
		args = fs.Args()
		if *sortSpec != "" {
			params.Sort = *sortSpec
		}
	}
	if len(args) == 0 {
		return errUsage
	}
	dao, err := reg.Dao(args[0])
	if err != nil {
		return err
	}
	args = args[1:]

	switch cmd {
	case "get", "delete":
		if len(args) != 1 {
			return errUsage
		}
		if cmd == "delete" {
			if err := dao.DeleteByID(ctx, args[0]); err != nil {
				return err
			}
			return printJSON(out, map[string]any{"deleted": args[0]})
		}
		rec, err := dao.GetByID(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(out, rec.Data())

	case "find":
		pred, err := ParsePredicate(args)
		if err != nil {
			return err
		}
		rec, err := dao.Get(ctx, pred, nil)
		if err != nil {
			return err
		}
		return printJSON(out, rec.Data())

	case "list":
		pred, err := ParsePredicate(args)
		if err != nil {
			return err
		}
		it, err := dao.GetIterator(ctx, pred, &params)
		if err != nil {
			return err
		}
		rows, err := it.GetArray(ctx)
		if err != nil {
			return err
		}
		if rows == nil {
			rows = []rw.Item{}
		}
		return printJSON(out, rows)

	case "count":
		pred, err := ParsePredicate(args)
		if err != nil {
			return err
		}
		n, err := dao.Count(ctx, pred)
		if err != nil {
			return err
		}
		return printJSON(out, map[string]int{"count": n})
	}
	return fmt.Errorf("unknown command %q", cmd)
}

// operators in match order; two-character operators first
var cliOperators = []struct{ token, op string }{
	{">=", rw.OpGte},
	{"<=", rw.OpLte},
	{"!=", rw.OpNe},
	{"=", rw.OpEq},
	{">", rw.OpGt},
	{"<", rw.OpLt},
	{"~", rw.OpLike},
}

// ParsePredicate turns "attr<op>value" arguments into a Predicate. The value
// "null" is a null test. Values stay strings; the Dao coerces them.
func ParsePredicate(args []string) (rw.Predicate, error) {
	pred := rw.Predicate{}
	for i, arg := range args {
		idx, tok, op := -1, "", ""
		for _, o := range cliOperators {
			if j := strings.Index(arg, o.token); j > 0 && (idx < 0 || j < idx) {
				idx, tok, op = j, o.token, o.op
			}
		}
		if idx < 0 {
			return nil, fmt.Errorf("condition %q has no operator", arg)
		}
		name, raw := arg[:idx], arg[idx+len(tok):]
		var value any = raw
		if raw == "null" {
			value = nil
		}
		// keys are unique so one attribute can carry several conditions
		pred[fmt.Sprintf("%s#%d", name, i)] = rw.Assignment{Attribute: name, Operator: op, Value: value}
	}
	return pred, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
