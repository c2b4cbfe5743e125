package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/scalarden/fray/batch"
	"github.com/scalarden/fray/config"
	"github.com/scalarden/fray/layout"
	"github.com/scalarden/fray/scan"
	"github.com/scalarden/fray/specialize"
	"github.com/scalarden/fray/textsplit"
)

var (
	configPath string
	typeNames  string
	filters    []string
)

var rootCmd = &cobra.Command{
	Use:   "fray <file>",
	Short: "Scan a delimited text file into row batches and print them.",
	Args:  cobra.ExactArgs(1),
	Example: `fray data.csv --types int64,string
fray data.csv --types int64,string,float64 --filter '0>5' --filter '2<1.5'`,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Default()
		if configPath != "" {
			var err error
			cfg, err = config.ReadConfig(configPath)
			if err != nil {
				return errors.Wrap(err, "couldn't read config")
			}
		}

		types, err := parseTypes(typeNames)
		if err != nil {
			return err
		}
		tupleLayout := layout.NewTupleLayout(types, 0, 0)

		conjuncts, order, err := parseFilters(filters, tupleLayout)
		if err != nil {
			return err
		}

		table := tablewriter.NewWriter(os.Stdout)
		header := make([]string, len(types))
		for i := range types {
			header[i] = fmt.Sprintf("col%d (%s)", i, types[i])
		}
		table.SetHeader(header)
		table.SetAutoFormatHeaders(false)

		node := &scan.ScanNode{
			Layout:       tupleLayout,
			Conjuncts:    conjuncts,
			Order:        order,
			CopyStrings:  cfg.CopyStrings,
			EscapeChar:   cfg.EscapeByte(),
			NullSentinel: []byte(cfg.NullSentinel),
			BatchSize:    cfg.BatchSize,
			MaxBatchMem:  cfg.MaxBatchMem,
			Tracker:      batch.NewMemTracker(cfg.MemLimit),
			Deliver: func(b *batch.RowBatch) {
				appendBatch(table, b, tupleLayout)
				b.Pool().FreeAll()
			},
		}

		var writeTuplesFn scan.BatchWriterFn
		if !cfg.DisableSpecialization {
			cache, err := specialize.NewFnCache()
			if err != nil {
				return errors.Wrap(err, "couldn't create function cache")
			}
			writeTuplesFn = specialize.InitializeWriteTuplesFn(node, cache)
		}

		f, err := os.Open(args[0])
		if err != nil {
			return errors.Wrap(err, "couldn't open file")
		}
		defer f.Close()

		source, err := textsplit.NewSource(args[0], f, cfg.Delimiter[0], cfg.EscapeByte(), len(types))
		if err != nil {
			return errors.Wrap(err, "couldn't create text source")
		}

		state := scan.NewRuntimeState(cfg.BatchSize)
		state.AbortOnError = cfg.AbortOnError
		state.MaxErrorLogs = cfg.MaxErrorLogs

		scanner := scan.NewScanner(node, state, source)
		if err := scanner.Prepare(); err != nil {
			return errors.Wrap(err, "couldn't prepare scanner")
		}
		defer scanner.Close()
		scanner.SetBatchWriter(writeTuplesFn)

		if err := scanner.Scan(cmd.Context()); err != nil {
			return errors.Wrap(err, "scan failed")
		}

		table.Render()
		if scanner.NumErrorsInFile() > 0 {
			log.Printf("%d rows with conversion errors", scanner.NumErrorsInFile())
			for _, msg := range state.ErrorLog() {
				log.Println(msg)
			}
		}
		if node.NumScannersCodegenEnabled() > 0 {
			log.Println("scan ran specialized")
		}
		return nil
	},
}

func parseTypes(s string) ([]layout.TypeID, error) {
	if s == "" {
		return nil, errors.New("--types is required")
	}
	parts := strings.Split(s, ",")
	out := make([]layout.TypeID, len(parts))
	for i, p := range parts {
		switch strings.TrimSpace(p) {
		case "bool":
			out[i] = layout.TypeBool
		case "int64":
			out[i] = layout.TypeInt64
		case "float64":
			out[i] = layout.TypeFloat64
		case "string":
			out[i] = layout.TypeString
		case "timestamp":
			out[i] = layout.TypeTimestamp
		default:
			return nil, errors.Errorf("unknown type: %q", p)
		}
	}
	return out, nil
}

// parseFilters turns "<colIdx><op><constant>" filter strings into ordered
// conjuncts plus the slot materialization order a planner would hand the
// scan: each slot scheduled at the earliest conjunct referencing it.
func parseFilters(specs []string, l layout.TupleLayout) ([]scan.Conjunct, layout.MaterializationOrder, error) {
	order := make(layout.MaterializationOrder, len(l.Slots))
	for i := range order {
		order[i] = len(specs)
	}

	conjuncts := make([]scan.Conjunct, len(specs))
	for i, spec := range specs {
		opIdx := strings.IndexAny(spec, "><=")
		if opIdx < 0 {
			return nil, nil, errors.Errorf("invalid filter %q, expected <col><op><value>", spec)
		}
		col, err := strconv.Atoi(spec[:opIdx])
		if err != nil || col < 0 || col >= len(l.Slots) {
			return nil, nil, errors.Errorf("invalid filter column in %q", spec)
		}
		op := spec[opIdx]
		pred, err := buildPredicate(l, l.Slots[col], op, spec[opIdx+1:])
		if err != nil {
			return nil, nil, errors.Wrapf(err, "invalid filter %q", spec)
		}
		conjuncts[i] = scan.Conjunct{
			ID:       spec,
			Eval:     pred,
			Compiled: pred,
		}
		if order[col] > i {
			order[col] = i
		}
	}
	return conjuncts, order, nil
}

func buildPredicate(l layout.TupleLayout, slot layout.SlotDescriptor, op byte, value string) (scan.PredicateFn, error) {
	switch slot.Type {
	case layout.TypeInt64:
		c, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, errors.Wrap(err, "couldn't parse integer constant")
		}
		return func(row layout.TupleRow, pool *batch.MemPool) bool {
			tuple := row.Tuple(l.TupleIndex)
			if tuple.IsNull(slot) {
				return false
			}
			return compareInt(tuple.Int64(slot), c, op)
		}, nil
	case layout.TypeFloat64:
		c, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, errors.Wrap(err, "couldn't parse float constant")
		}
		return func(row layout.TupleRow, pool *batch.MemPool) bool {
			tuple := row.Tuple(l.TupleIndex)
			if tuple.IsNull(slot) {
				return false
			}
			return compareFloat(tuple.Float64(slot), c, op)
		}, nil
	case layout.TypeString:
		if op != '=' {
			return nil, errors.Errorf("unsupported string comparison %q", string(op))
		}
		return func(row layout.TupleRow, pool *batch.MemPool) bool {
			tuple := row.Tuple(l.TupleIndex)
			if tuple.IsNull(slot) {
				return false
			}
			return string(pool.Resolve(tuple.StringRef(slot))) == value
		}, nil
	default:
		return nil, errors.Errorf("filters on %s columns are not supported", slot.Type)
	}
}

func compareInt(v, c int64, op byte) bool {
	switch op {
	case '>':
		return v > c
	case '<':
		return v < c
	default:
		return v == c
	}
}

func compareFloat(v, c float64, op byte) bool {
	switch op {
	case '>':
		return v > c
	case '<':
		return v < c
	default:
		return v == c
	}
}

func appendBatch(table *tablewriter.Table, b *batch.RowBatch, l layout.TupleLayout) {
	for i := 0; i < b.NumRows(); i++ {
		tuple := b.Row(i).Tuple(l.TupleIndex)
		out := make([]string, len(l.Slots))
		for j, slot := range l.Slots {
			out[j] = formatSlot(tuple, slot, b.Pool())
		}
		table.Append(out)
	}
}

func formatSlot(t layout.Tuple, slot layout.SlotDescriptor, pool *batch.MemPool) string {
	if t.IsNull(slot) {
		return "NULL"
	}
	switch slot.Type {
	case layout.TypeBool:
		return strconv.FormatBool(t.Bool(slot))
	case layout.TypeInt64:
		return strconv.FormatInt(t.Int64(slot), 10)
	case layout.TypeFloat64:
		return strconv.FormatFloat(t.Float64(slot), 'g', -1, 64)
	case layout.TypeString:
		return string(pool.Resolve(t.StringRef(slot)))
	case layout.TypeTimestamp:
		return t.Timestamp(slot).String()
	}
	return "?"
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Fatal(err)
	}
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to a yaml scan profile")
	rootCmd.Flags().StringVar(&typeNames, "types", "", "comma-separated column types: bool,int64,float64,string,timestamp")
	rootCmd.Flags().StringArrayVar(&filters, "filter", nil, "filter of the form <col><op><value>, e.g. 0>5; repeatable, evaluated in order")
}
