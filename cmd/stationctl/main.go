// stationctl is an operator CLI for catalog administration, rule lifecycle
// management and alert reporting against the shared store.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/climasense/station-alert-worker/internal/catalog"
	"github.com/climasense/station-alert-worker/internal/db"
	"github.com/climasense/station-alert-worker/internal/engine"
	"github.com/climasense/station-alert-worker/internal/report"
	"github.com/climasense/station-alert-worker/internal/repository"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const usage = `usage: stationctl <command> [flags]

catalog:
  create-type      -name -unit [-precision] [-factor] [-offset]
  list-types       [-inactive]
  disable-type     -id
  create-station   -name [-types 1,2,3]
  list-stations
  rename-station   -id -name
  disable-station  -id
  add-parameter    -station -type

rules:
  create-rule   -parameter -name -threshold -operator -severity
  update-rule   -id [-name] [-threshold] [-operator] [-severity] [-parameter]
  disable-rule  -id
  mark-read     -alert

reports:
  severity-counts  [-station]
  distribution     [-station]
  station-status
  history          -station [-from YYYY-MM-DD] [-to YYYY-MM-DD]
  last             -station
  alerts           [-station] [-from YYYY-MM-DD] [-to YYYY-MM-DD]
  measures-status
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	_ = godotenv.Load()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to build logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to connect:", err)
		os.Exit(1)
	}
	defer pool.Close()

	cat := catalog.NewService(pool, logger)
	agg := report.NewAggregator(pool)
	gen := engine.NewAlertGenerator(repository.NewRepository(pool), logger)

	if err := run(ctx, os.Args[1], os.Args[2:], cat, agg, gen); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command string, args []string, cat *catalog.Service, agg *report.Aggregator, gen *engine.AlertGenerator) error {
	switch command {
	case "create-type":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		name := fs.String("name", "", "parameter type name")
		unit := fs.String("unit", "", "measure unit")
		precision := fs.Int("precision", 0, "decimal precision")
		factor := fs.Float64("factor", 1.0, "scale factor")
		offset := fs.Float64("offset", 0.0, "scale offset")
		fs.Parse(args)

		pt, err := cat.CreateParameterType(ctx, catalog.ParameterTypeInput{
			Name:             *name,
			MeasureUnit:      *unit,
			DecimalPrecision: *precision,
			ScaleFactor:      factor,
			ScaleOffset:      offset,
		})
		if err != nil {
			return err
		}
		return printJSON(pt)

	case "list-types":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		inactive := fs.Bool("inactive", false, "list inactive types instead")
		fs.Parse(args)

		types, err := cat.ListParameterTypes(ctx, !*inactive)
		if err != nil {
			return err
		}
		return printJSON(types)

	case "disable-type":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		id := fs.Int64("id", 0, "parameter type id")
		fs.Parse(args)
		return cat.DisableParameterType(ctx, *id)

	case "create-station":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		name := fs.String("name", "", "station name")
		types := fs.String("types", "", "comma-separated parameter type ids")
		fs.Parse(args)

		typeIDs, err := parseIDList(*types)
		if err != nil {
			return err
		}
		station, err := cat.CreateStation(ctx, *name, typeIDs)
		if err != nil {
			return err
		}
		return printJSON(station)

	case "list-stations":
		stations, err := cat.ListStations(ctx)
		if err != nil {
			return err
		}
		return printJSON(stations)

	case "rename-station":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		id := fs.Int64("id", 0, "station id")
		name := fs.String("name", "", "new station name")
		fs.Parse(args)
		return cat.RenameStation(ctx, *id, *name)

	case "disable-station":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		id := fs.Int64("id", 0, "station id")
		fs.Parse(args)
		return cat.DisableStation(ctx, *id)

	case "add-parameter":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		stationID := fs.Int64("station", 0, "station id")
		typeID := fs.Int64("type", 0, "parameter type id")
		fs.Parse(args)

		p, err := cat.AddParameter(ctx, *stationID, *typeID)
		if err != nil {
			return err
		}
		return printJSON(p)

	case "create-rule":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		parameterID := fs.Int64("parameter", 0, "parameter id")
		name := fs.String("name", "", "rule name")
		threshold := fs.Float64("threshold", 0, "threshold")
		operator := fs.String("operator", "", "comparison operator")
		severity := fs.String("severity", engine.SeverityYellow, "severity bucket (R, Y, G)")
		fs.Parse(args)

		rule, err := gen.CreateRule(ctx, *parameterID, *name, *threshold, *operator, *severity)
		if err != nil {
			return err
		}
		return printJSON(rule)

	case "update-rule":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		id := fs.Int64("id", 0, "rule id")
		name := fs.String("name", "", "new rule name")
		threshold := fs.String("threshold", "", "new threshold")
		operator := fs.String("operator", "", "new operator")
		severity := fs.String("severity", "", "new severity")
		parameterID := fs.Int64("parameter", 0, "new parameter id")
		fs.Parse(args)

		var upd db.RuleUpdate
		if *name != "" {
			upd.Name = name
		}
		if *threshold != "" {
			v, err := strconv.ParseFloat(*threshold, 64)
			if err != nil {
				return fmt.Errorf("invalid threshold: %w", err)
			}
			upd.Threshold = &v
		}
		if *operator != "" {
			upd.Operator = operator
		}
		if *severity != "" {
			upd.Severity = severity
		}
		if *parameterID != 0 {
			upd.ParameterID = parameterID
		}
		return gen.UpdateRule(ctx, *id, upd)

	case "disable-rule":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		id := fs.Int64("id", 0, "rule id")
		fs.Parse(args)
		return gen.DisableRule(ctx, *id)

	case "mark-read":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		alertID := fs.Int64("alert", 0, "alert id")
		fs.Parse(args)
		return gen.MarkAlertRead(ctx, *alertID)

	case "severity-counts":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		station := fs.Int64("station", 0, "station id (0 = all)")
		fs.Parse(args)

		counts, err := agg.CountBySeverity(ctx, optionalID(*station))
		if err != nil {
			return err
		}
		return printJSON(counts)

	case "distribution":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		station := fs.Int64("station", 0, "station id (0 = all)")
		fs.Parse(args)

		dist, err := agg.DistributionByRuleName(ctx, optionalID(*station))
		if err != nil {
			return err
		}
		return printJSON(dist)

	case "station-status":
		status, err := agg.Stations(ctx)
		if err != nil {
			return err
		}
		return printJSON(status)

	case "history":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		station := fs.Int64("station", 0, "station id")
		from := fs.String("from", "", "start date (YYYY-MM-DD)")
		to := fs.String("to", "", "end date (YYYY-MM-DD)")
		fs.Parse(args)

		fromTime, err := parseDate(*from)
		if err != nil {
			return err
		}
		toTime, err := parseDate(*to)
		if err != nil {
			return err
		}
		points, err := agg.HistoryForStation(ctx, *station, fromTime, toTime)
		if err != nil {
			return err
		}
		return printJSON(points)

	case "last":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		station := fs.Int64("station", 0, "station id")
		fs.Parse(args)

		last, err := agg.LastMeasurementsForStation(ctx, *station)
		if err != nil {
			return err
		}
		return printJSON(last)

	case "alerts":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		station := fs.Int64("station", 0, "station id (0 = all)")
		from := fs.String("from", "", "start date (YYYY-MM-DD)")
		to := fs.String("to", "", "end date (YYYY-MM-DD)")
		fs.Parse(args)

		fromTime, err := parseDate(*from)
		if err != nil {
			return err
		}
		toTime, err := parseDate(*to)
		if err != nil {
			return err
		}
		rows, err := agg.ListAlerts(ctx, report.AlertFilter{
			From:      fromTime,
			To:        toTime,
			StationID: optionalID(*station),
		})
		if err != nil {
			return err
		}
		return printJSON(rows)

	case "measures-status":
		counts, err := agg.MeasuresStatus(ctx)
		if err != nil {
			return err
		}
		return printJSON(counts)

	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// optionalID maps the flag default 0 to "no filter".
func optionalID(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}

func parseIDList(s string) ([]int64, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return &t, nil
}
