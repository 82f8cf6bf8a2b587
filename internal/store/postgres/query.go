package postgres

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/SSC023/polymarket-btc-hft-bot/internal/domain"
)

// whereBuilder accumulates positional filters.
type whereBuilder struct {
	conds []string
	args  []any
}

func (w *whereBuilder) add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, fmt.Sprintf(cond, len(w.args)))
}

// timeRange adds Since/Until filters on col.
func (w *whereBuilder) timeRange(col string, opts domain.ListOpts) {
	if opts.Since != nil {
		w.add(col+" >= $%d", *opts.Since)
	}
	if opts.Until != nil {
		w.add(col+" <= $%d", *opts.Until)
	}
}

// sql renders WHERE, ORDER BY and the paging clauses.
func (w *whereBuilder) sql(orderBy string, opts domain.ListOpts) string {
	var b strings.Builder
	if len(w.conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(w.conds, " AND "))
	}
	b.WriteString(" ORDER BY ")
	b.WriteString(orderBy)
	if opts.Limit > 0 {
		w.args = append(w.args, opts.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(w.args))
	}
	if opts.Offset > 0 {
		w.args = append(w.args, opts.Offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(w.args))
	}
	return b.String()
}

// decimals are sent and read as text so NUMERIC keeps full precision.
func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
