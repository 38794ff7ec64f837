package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/lpbot/internal/domain"
)

// Console implementa ports.Notifier escribiendo a un io.Writer.
type Console struct {
	out   io.Writer
	table bool
}

// NewConsole crea un notificador que escribe a stdout.
// Con table=true los cierres se imprimen como tabla de resumen.
func NewConsole(table bool) *Console {
	return &Console{out: os.Stdout, table: table}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer, table bool) *Console {
	return &Console{out: w, table: table}
}

// Notify imprime una línea por evento, y el resumen completo al cerrar.
func (c *Console) Notify(_ context.Context, ev domain.LifecycleEvent) error {
	p := ev.Position
	ts := ev.At.Format("15:04:05")

	switch ev.Type {
	case domain.EventOpened:
		fmt.Fprintf(c.out, "[%s] OPEN  %s pool=%s range=%s baseline=%.4f entry=$%.6g\n",
			ts, tokenLabel(p), short(p.PoolAddress), p.Range, p.EntryActivityRatio, p.EntryPrice)
	case domain.EventRebalanced:
		fmt.Fprintf(c.out, "[%s] REBAL %s range=%s rebalances=%d\n",
			ts, tokenLabel(p), p.Range, p.RebalanceCount)
	case domain.EventClosed:
		reason := ""
		if p.Close != nil {
			reason = string(p.Close.Reason)
		}
		fmt.Fprintf(c.out, "[%s] CLOSE %s reason=%s age=%s ratio=%.3f\n",
			ts, tokenLabel(p), reason, age(p).Round(time.Minute), p.RatioOverBaseline)
		if c.table {
			c.PrintPositions([]domain.Position{p})
		}
	case domain.EventInconsistent:
		fmt.Fprintf(c.out, "[%s] !! INCONSISTENT %s handle=%s: %s\n",
			ts, tokenLabel(p), p.PositionHandle, compactDetail(ev.Detail, 160))
	case domain.EventCloseFailed:
		fmt.Fprintf(c.out, "[%s] !! CLOSE FAILED %s handle=%s: %s\n",
			ts, tokenLabel(p), p.PositionHandle, compactDetail(ev.Detail, 160))
	default:
		fmt.Fprintf(c.out, "[%s] %s %s\n", ts, ev.Type, tokenLabel(p))
	}
	return nil
}

// PrintPositions imprime una tabla con el estado de las posiciones dadas.
func (c *Console) PrintPositions(positions []domain.Position) {
	if len(positions) == 0 {
		fmt.Fprintln(c.out, "No positions.")
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("ID", "Token", "Pool", "Range", "Status", "Age", "Entry$", "Last$", "Ratio", "Rebal", "Fees X", "Fees Y", "Reason")
	for _, p := range positions {
		feesX, feesY, reason := "-", "-", "-"
		if p.Close != nil {
			feesX = p.Close.ClaimedFees.X.String()
			feesY = p.Close.ClaimedFees.Y.String()
			reason = string(p.Close.Reason)
		}
		table.Append(
			short(p.ID),
			tokenLabel(p),
			short(p.PoolAddress),
			p.Range.String(),
			string(p.Status),
			age(p).Round(time.Minute).String(),
			fmt.Sprintf("%.6g", p.EntryPrice),
			fmt.Sprintf("%.6g", p.CurrentPrice),
			fmt.Sprintf("%.3f", p.RatioOverBaseline),
			fmt.Sprintf("%d", p.RebalanceCount),
			feesX,
			feesY,
			reason,
		)
	}
	table.Render()
}

// --- helpers ---

func age(p domain.Position) time.Duration {
	end := p.LastUpdated
	if p.Close != nil {
		end = p.Close.ClosedAt
	}
	if end.Before(p.CreatedAt) {
		return 0
	}
	return end.Sub(p.CreatedAt)
}

func tokenLabel(p domain.Position) string {
	if p.TokenSymbol != "" {
		return p.TokenSymbol
	}
	return short(p.TokenAddress)
}

// short recorta direcciones largas: "AbCd…wXyZ".
func short(s string) string {
	if len(s) <= 12 {
		return s
	}
	return s[:4] + "…" + s[len(s)-4:]
}

// compactDetail deja el detalle de un error en una línea.
func compactDetail(s string, maxLen int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
