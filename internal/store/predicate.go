// ABOUTME: Typed predicates and query modifiers for table-scoped statements
// ABOUTME: Unknown columns and unknown argument keys are ignored rather than rejected

package store

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Where maps column names to the value they are compared with.
// An empty Where matches every row.
type Where map[string]any

// Operator is a SQL comparison operator.
type Operator string

// Supported comparison operators.
const (
	OpEqual        Operator = "="
	OpNotEqual     Operator = "!="
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpLike         Operator = "LIKE"
)

var operatorAliases = map[string]Operator{
	"=":                OpEqual,
	"==":               OpEqual,
	"eq":               OpEqual,
	"equals":           OpEqual,
	"!=":               OpNotEqual,
	"<>":               OpNotEqual,
	"ne":               OpNotEqual,
	"not-equals":       OpNotEqual,
	">":                OpGreater,
	"gt":               OpGreater,
	"greater-than":     OpGreater,
	">=":               OpGreaterEqual,
	"ge":               OpGreaterEqual,
	"greater-or-equal": OpGreaterEqual,
	"<":                OpLess,
	"lt":               OpLess,
	"less-than":        OpLess,
	"<=":               OpLessEqual,
	"le":               OpLessEqual,
	"less-or-equal":    OpLessEqual,
	"like":             OpLike,
}

// ParseOperator resolves a symbolic or named operator, case-insensitively.
func ParseOperator(s string) (Operator, bool) {
	op, ok := operatorAliases[strings.ToLower(strings.TrimSpace(s))]
	return op, ok
}

// Args holds the modifiers of a select.
type Args struct {
	Limit  int
	Offset int
	// Order is the column to sort by; empty keeps the store's natural order.
	Order string
	Desc  bool
	// Operators overrides the comparison used for a Where column.
	Operators map[string]Operator
}

// ParseArgs builds Args from a loosely typed map such as decoded JSON.
// Recognized keys are limit, offset, order and operators; anything else,
// and any value of the wrong shape, is ignored.
func ParseArgs(m map[string]any) Args {
	var a Args
	if n, ok := toInt(m["limit"]); ok && n > 0 {
		a.Limit = n
	}
	if n, ok := toInt(m["offset"]); ok && n > 0 {
		a.Offset = n
	}
	if s, ok := m["order"].(string); ok {
		a.Order, a.Desc = parseOrder(s)
	}
	switch ops := m["operators"].(type) {
	case map[string]any:
		for col, v := range ops {
			if s, ok := v.(string); ok {
				a.setOperator(col, s)
			}
		}
	case map[string]string:
		for col, s := range ops {
			a.setOperator(col, s)
		}
	}
	return a
}

func (a *Args) setOperator(col, s string) {
	op, ok := ParseOperator(s)
	if !ok {
		return
	}
	if a.Operators == nil {
		a.Operators = make(map[string]Operator)
	}
	a.Operators[col] = op
}

// parseOrder accepts "col", "-col", "col asc" and "col desc".
func parseOrder(s string) (string, bool) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return "", false
	}
	col := fields[0]
	desc := false
	if strings.HasPrefix(col, "-") {
		col = col[1:]
		desc = true
	}
	if len(fields) > 1 && strings.EqualFold(fields[1], "desc") {
		desc = true
	}
	return col, desc
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	}
	return 0, false
}

// buildWhere renders the WHERE clause (without the keyword) for the known
// columns of where. matched is false when where named columns but none of
// them exist in the table.
func buildWhere(info *TableInfo, where Where, ops map[string]Operator) (clause string, params []any, matched bool) {
	if len(where) == 0 {
		return "", nil, true
	}

	var parts []string
	for _, col := range whereColumns(info, where) {
		val := where[col]
		op := OpEqual
		if o, ok := ops[col]; ok {
			op = o
		}
		switch {
		case val == nil && op == OpEqual:
			parts = append(parts, quoteIdent(col)+" IS NULL")
		case val == nil && op == OpNotEqual:
			parts = append(parts, quoteIdent(col)+" IS NOT NULL")
		default:
			parts = append(parts, fmt.Sprintf("%s %s ?", quoteIdent(col), op))
			params = append(params, val)
		}
	}
	if len(parts) == 0 {
		return "", nil, false
	}
	return strings.Join(parts, " AND "), params, true
}

// whereColumns returns the keys of where that are table columns, in table order.
func whereColumns(info *TableInfo, where Where) []string {
	var cols []string
	if info.PrimaryKey == "rowid" {
		if _, ok := where["rowid"]; ok {
			cols = append(cols, "rowid")
		}
	}
	for _, c := range info.Columns {
		if _, ok := where[c]; ok {
			cols = append(cols, c)
		}
	}
	return cols
}

// buildModifiers renders ORDER BY / LIMIT / OFFSET.
func buildModifiers(info *TableInfo, args Args) (string, []any) {
	var sb strings.Builder
	var params []any

	if args.Order != "" && info.HasColumn(args.Order) {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(quoteIdent(args.Order))
		if args.Desc {
			sb.WriteString(" DESC")
		}
	}
	switch {
	case args.Limit > 0:
		sb.WriteString(" LIMIT ?")
		params = append(params, args.Limit)
	case args.Offset > 0:
		// SQLite requires a LIMIT before OFFSET.
		sb.WriteString(" LIMIT -1")
	}
	if args.Offset > 0 {
		sb.WriteString(" OFFSET ?")
		params = append(params, args.Offset)
	}
	return sb.String(), params
}

// filterRow keeps the keys of row that are table columns, in table order.
func filterRow(info *TableInfo, row Row) ([]string, []any) {
	var cols []string
	var vals []any
	for _, c := range info.Columns {
		if v, ok := row[c]; ok {
			cols = append(cols, c)
			vals = append(vals, v)
		}
	}
	return cols, vals
}
