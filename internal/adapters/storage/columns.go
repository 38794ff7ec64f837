package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/lpbot/internal/domain"
)

// Dialect agrupa las diferencias de encoding entre backends SQL.
type Dialect struct {
	Placeholder func(n int) string
	Time        func(t time.Time) any
	Strings     func(s []string) (any, error)
}

// Assignment es un par columna=valor de un UPDATE parcial.
type Assignment struct {
	Column string
	Value  any
}

// Assignments traduce un domain.PositionUpdate a las columnas de la tabla positions.
// AppendSample no genera columnas: va a la tabla de samples.
func Assignments(d Dialect, u domain.PositionUpdate) ([]Assignment, error) {
	var out []Assignment
	add := func(col string, v any) { out = append(out, Assignment{Column: col, Value: v}) }

	if u.CurrentPrice != nil {
		add("current_price", *u.CurrentPrice)
	}
	if u.CurrentActivityRatio != nil {
		add("current_activity_ratio", *u.CurrentActivityRatio)
	}
	if u.RatioOverBaseline != nil {
		add("ratio_over_baseline", *u.RatioOverBaseline)
	}
	if u.EntryActivityRatio != nil {
		add("entry_activity_ratio", *u.EntryActivityRatio)
	}
	if u.Range != nil {
		add("range_lower", u.Range.Lower)
		add("range_upper", u.Range.Upper)
	}
	if u.RebalanceCount != nil {
		add("rebalance_count", *u.RebalanceCount)
	}

	if c := u.Close; c != nil {
		txs, err := d.Strings(c.SettlementTxIDs)
		if err != nil {
			return nil, fmt.Errorf("encode settlement tx ids: %w", err)
		}
		add("status", string(domain.StatusClosed))
		add("closed_at", d.Time(c.ClosedAt))
		add("close_reason", string(c.Reason))
		add("exit_price", c.ExitPrice)
		add("fees_x", amount(c.ClaimedFees.X))
		add("fees_y", amount(c.ClaimedFees.Y))
		add("final_x", amount(c.FinalHoldings.X))
		add("final_y", amount(c.FinalHoldings.Y))
		add("settlement_tx_ids", txs)
		add("last_updated", d.Time(c.ClosedAt))
	} else if u.LastUpdated != nil {
		add("last_updated", d.Time(*u.LastUpdated))
	}
	return out, nil
}

// SetClause construye "col = $n, ..." numerando desde start.
func SetClause(d Dialect, as []Assignment, start int) (string, []any) {
	parts := make([]string, len(as))
	args := make([]any, len(as))
	for i, a := range as {
		parts[i] = a.Column + " = " + d.Placeholder(start+i)
		args[i] = a.Value
	}
	return strings.Join(parts, ", "), args
}

func amount(d decimal.Decimal) string {
	return d.String()
}

// ParseAmount lee un importe guardado como texto. Vacío es cero.
func ParseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
