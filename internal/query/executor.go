package query

import (
	"fmt"
	"strings"
	"time"

	v1 "github.com/mrshabel/chronodb/api/v1"
	"github.com/mrshabel/chronodb/internal/storage"
)

// Result is what an executed statement produces: either a short string
// message or a record array, never both.
type Result struct {
	Message string
	Records []v1.Record
	IsArray bool
}

// Executor runs parsed statements against a database context, resolving
// timeunit expressions and routing CREATE/INSERT/SELECT/DELETE to the
// storage engine.
type Executor struct {
	ctx *storage.DBContext
}

func NewExecutor(ctx *storage.DBContext) *Executor {
	return &Executor{ctx: ctx}
}

// Execute runs a single parsed statement and returns its result.
func (e *Executor) Execute(stmt Stmt) (Result, error) {
	switch s := stmt.(type) {
	case UseStmt:
		return e.execUse(s)
	case MetaStmt:
		return e.execMeta(s)
	case CreateDBStmt:
		return e.execCreateDB(s)
	case CreateStmt:
		return e.execCreate(s)
	case DeleteStmt:
		return e.execDelete(s)
	case InsertStmt:
		return e.execInsert(s)
	case SelectStmt:
		return e.execSelect(s)
	default:
		return Result{}, fmt.Errorf("query: unhandled statement type %T", stmt)
	}
}

func (e *Executor) execUse(s UseStmt) (Result, error) {
	if _, err := e.ctx.CreateDatabase(s.Database); err != nil {
		return Result{}, err
	}
	if err := e.ctx.Use(s.Database); err != nil {
		return Result{}, err
	}
	return Result{Message: "OK"}, nil
}

func (e *Executor) execMeta(s MetaStmt) (Result, error) {
	switch s.Kind {
	case MetaDatabases:
		return Result{Message: strings.Join(e.ctx.DatabaseNames(), " ")}, nil
	case MetaTimeseries:
		db, err := e.ctx.Active()
		if err != nil {
			return Result{}, err
		}
		return Result{Message: strings.Join(db.SeriesNames(), " ")}, nil
	default:
		return Result{}, fmt.Errorf("query: unknown meta kind")
	}
}

func (e *Executor) execCreateDB(s CreateDBStmt) (Result, error) {
	if _, err := e.ctx.CreateDatabase(s.Database); err != nil {
		return Result{}, err
	}
	return Result{Message: "OK"}, nil
}

func (e *Executor) execCreate(s CreateStmt) (Result, error) {
	db, err := e.ctx.Active()
	if err != nil {
		return Result{}, err
	}
	if _, err := db.CreateSeries(s.Series, storage.Options{}); err != nil {
		return Result{}, err
	}
	return Result{Message: "OK"}, nil
}

func (e *Executor) execDelete(s DeleteStmt) (Result, error) {
	db, err := e.ctx.Active()
	if err != nil {
		return Result{}, err
	}
	if err := db.DeleteSeries(s.Series); err != nil {
		return Result{}, err
	}
	return Result{Message: "OK"}, nil
}

func (e *Executor) execInsert(s InsertStmt) (Result, error) {
	db, err := e.ctx.Active()
	if err != nil {
		return Result{}, err
	}
	series, err := db.CreateSeries(s.Series, storage.Options{})
	if err != nil {
		return Result{}, err
	}
	for _, v := range s.Values {
		tsNS, err := resolveTimeUnitNS(v.Time)
		if err != nil {
			return Result{}, err
		}
		if err := series.Insert(tsNS, v.Value); err != nil {
			return Result{}, err
		}
	}
	return Result{Message: "OK"}, nil
}

func (e *Executor) execSelect(s SelectStmt) (Result, error) {
	db, err := e.ctx.Active()
	if err != nil {
		return Result{}, err
	}
	series, err := db.Series(s.Series)
	if err != nil {
		return Result{}, err
	}

	var records []v1.Record
	if s.RangeFrom != nil && s.RangeTo != nil {
		t0, err := resolveTimeUnitNS(s.RangeFrom)
		if err != nil {
			return Result{}, err
		}
		t1, err := resolveTimeUnitNS(s.RangeTo)
		if err != nil {
			return Result{}, err
		}
		records, err = series.Range(t0, t1)
		if err != nil {
			return Result{}, err
		}
	} else {
		records, err = series.Scan()
		if err != nil {
			return Result{}, err
		}
	}

	records = applyWhere(records, s.Where)
	records = applyFunc(s.Func, records)
	if s.HasLimit && len(records) > s.Limit {
		records = records[:s.Limit]
	}
	return Result{Records: records, IsArray: true}, nil
}

// applyWhere filters records whose value fails any WHERE condition on the
// synthetic "value" column; conditions on other columns are a no-op since
// a series carries only (timestamp, value).
func applyWhere(records []v1.Record, conds []Condition) []v1.Record {
	if len(conds) == 0 {
		return records
	}
	out := records[:0]
	for _, r := range records {
		ok := true
		for _, c := range conds {
			if !strings.EqualFold(c.Column, "value") {
				continue
			}
			threshold, err := resolveTimeUnitNS(c.Value)
			if err != nil {
				continue
			}
			v := int64(r.Value)
			t := int64(threshold)
			switch c.Op {
			case "=":
				ok = ok && v == t
			case "!=":
				ok = ok && v != t
			case ">":
				ok = ok && v > t
			case ">=":
				ok = ok && v >= t
			case "<":
				ok = ok && v < t
			case "<=":
				ok = ok && v <= t
			}
		}
		if ok {
			out = append(out, r)
		}
	}
	return out
}

// applyFunc reduces records through the named aggregate function, or
// returns them unchanged for a bare column select.
func applyFunc(fn string, records []v1.Record) []v1.Record {
	if fn == "" || len(records) == 0 {
		return records
	}
	switch fn {
	case "avg":
		var sum float64
		for _, r := range records {
			sum += r.Value
		}
		return []v1.Record{{TimestampNS: records[len(records)-1].TimestampNS, Value: sum / float64(len(records))}}
	case "min":
		m := records[0]
		for _, r := range records[1:] {
			if r.Value < m.Value {
				m = r
			}
		}
		return []v1.Record{m}
	case "max":
		m := records[0]
		for _, r := range records[1:] {
			if r.Value > m.Value {
				m = r
			}
		}
		return []v1.Record{m}
	case "latest":
		return []v1.Record{records[len(records)-1]}
	default:
		return records
	}
}

// ResolveTimeUnitNS evaluates a timeunit expression into an epoch
// nanosecond timestamp. Exported so callers that need to resolve an
// INSERT's timeunits ahead of the executor (to build a Raft command, for
// instance) can reuse the same resolution rules.
func ResolveTimeUnitNS(tu TimeUnit) (uint64, error) {
	return resolveTimeUnitNS(tu)
}

func resolveTimeUnitNS(tu TimeUnit) (uint64, error) {
	switch t := tu.(type) {
	case IntLit:
		return uint64(t.Value), nil
	case DateLit:
		parsed, err := time.Parse("2006-01-02 15:04:05", t.Value)
		if err != nil {
			return 0, fmt.Errorf("query: bad date literal %q: %w", t.Value, err)
		}
		return uint64(parsed.UnixNano()), nil
	case NowLit:
		return uint64(time.Now().UnixNano()), nil
	case TimespanLit:
		return timespanToNS(t.Value)
	case BinaryExpr:
		l, err := resolveTimeUnitNS(t.Left)
		if err != nil {
			return 0, err
		}
		r, err := resolveTimeUnitNS(t.Right)
		if err != nil {
			return 0, err
		}
		switch t.Op {
		case '+':
			return l + r, nil
		case '-':
			return l - r, nil
		case '*':
			return l * r, nil
		default:
			return 0, fmt.Errorf("query: unknown binary operator %q", t.Op)
		}
	default:
		return 0, fmt.Errorf("query: unresolvable timeunit %T", tu)
	}
}

// timespanToNS parses a timespan literal like "3d", "250ms" into a
// nanosecond duration.
func timespanToNS(s string) (uint64, error) {
	i := 0
	for i < len(s) && (s[i] >= '0' && s[i] <= '9') {
		i++
	}
	if i == 0 {
		return 0, fmt.Errorf("query: bad timespan %q", s)
	}
	n, unit := s[:i], s[i:]
	var mult time.Duration
	switch unit {
	case "d":
		mult = 24 * time.Hour
	case "h":
		mult = time.Hour
	case "m":
		mult = time.Minute
	case "ms":
		mult = time.Millisecond
	case "s":
		mult = time.Second
	default:
		return 0, fmt.Errorf("query: unknown timespan unit %q", unit)
	}
	var value int64
	if _, err := fmt.Sscanf(n, "%d", &value); err != nil {
		return 0, fmt.Errorf("query: bad timespan magnitude %q: %w", n, err)
	}
	return uint64(value * int64(mult)), nil
}
