package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"

	"courtside/internal/domain"
)

// Console implements ports.Notifier by writing compact one-liners to
// stdout. It also renders the operator report tables.
type Console struct {
	out io.Writer
}

// NewConsole creates a notifier writing to stdout.
func NewConsole() *Console {
	return &Console{out: os.Stdout}
}

// NewConsoleWriter creates a notifier for tests.
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w}
}

func (c *Console) OrderFilled(_ context.Context, sig domain.Signal, job domain.TradeJob) error {
	fmt.Fprintf(c.out, "[%s] FILL  %s %s %s @ %.2f × %.1f ($%.2f)\n",
		stamp(), job.EventID, job.PickTeam, sig.Role,
		sig.FillPrice, sig.FilledShares, sig.FillPrice*sig.FilledShares)
	return nil
}

func (c *Console) OrderReplaced(_ context.Context, sig domain.Signal, oldPrice, newPrice float64) error {
	fmt.Fprintf(c.out, "[%s] CHASE %s %s %.2f → %.2f (replace %d)\n",
		stamp(), sig.EventID, sig.Role, oldPrice, newPrice, sig.OrderReplaceCount)
	return nil
}

func (c *Console) OrderExpired(_ context.Context, sig domain.Signal, reason string) error {
	fmt.Fprintf(c.out, "[%s] EXPIRE %s %s @ %.2f — %s\n",
		stamp(), sig.EventID, sig.Role, sig.TargetPrice, reason)
	return nil
}

func (c *Console) MergeExecuted(_ context.Context, g domain.PositionGroup, qty, recoveredUSD float64) error {
	fmt.Fprintf(c.out, "[%s] MERGE %s %.1f pairs → $%.2f (m=%.1f d=%.1f)\n",
		stamp(), g.EventID, qty, recoveredUSD, g.MergedQty, g.Imbalance())
	return nil
}

func (c *Console) ImbalanceViolation(_ context.Context, g domain.PositionGroup) error {
	fmt.Fprintf(c.out, "[%s] !! IMBALANCE %s d=%.1f exceeds d_max=%.1f — manual review needed\n",
		stamp(), g.EventID, g.Imbalance(), g.DMax)
	return nil
}

// PrintDailyReport renders the per-day summary table.
func (c *Console) PrintDailyReport(summaries []domain.DailySummary) {
	if len(summaries) == 0 {
		fmt.Fprintln(c.out, "\n  No daily summaries yet.")
		return
	}

	fmt.Fprintf(c.out, "\n=== DAILY SUMMARY (%d days) ===\n", len(summaries))

	table := tablewriter.NewWriter(c.out)
	table.Header("Date", "Exec", "Skip", "Exp", "Fail", "Placed", "Fills", "Repl", "MergeQty", "Recov$", "PnL$", "Cap$")

	var totPnL, totRecov, totCap float64
	for _, d := range summaries {
		table.Append(
			d.Date.Format("01-02"),
			fmt.Sprintf("%d", d.JobsExecuted),
			fmt.Sprintf("%d", d.JobsSkipped),
			fmt.Sprintf("%d", d.JobsExpired),
			fmt.Sprintf("%d", d.JobsFailed),
			fmt.Sprintf("%d", d.OrdersPlaced),
			fmt.Sprintf("%d", d.OrdersFilled),
			fmt.Sprintf("%d", d.OrdersReplaced),
			fmt.Sprintf("%.1f", d.MergeQty),
			fmt.Sprintf("$%.2f", d.MergeRecovery),
			fmt.Sprintf("$%.2f", d.RealizedPnL),
			fmt.Sprintf("$%.0f", d.CapitalDeployed),
		)
		totPnL += d.RealizedPnL
		totRecov += d.MergeRecovery
		if d.CapitalDeployed > totCap {
			totCap = d.CapitalDeployed
		}
	}
	table.Render()

	fmt.Fprintf(c.out, "\n  Realized PnL:    $%.2f over %d days\n", totPnL, len(summaries))
	fmt.Fprintf(c.out, "  Merge recovery:  $%.2f\n", totRecov)
	if totCap > 0 {
		fmt.Fprintf(c.out, "  Max capital:     $%.0f  (%.1f%% return)\n", totCap, totPnL/totCap*100)
	}
	fmt.Fprintln(c.out)
}

// PrintPositionReport renders the open bothside groups.
func (c *Console) PrintPositionReport(groups []domain.PositionGroup) {
	if len(groups) == 0 {
		fmt.Fprintln(c.out, "\n  No open position groups.")
		return
	}

	fmt.Fprintf(c.out, "\n=== OPEN POSITION GROUPS (%d) ===\n", len(groups))

	table := tablewriter.NewWriter(c.out)
	table.Header("Event", "State", "q_dir", "q_opp", "d", "d_max", "merged", "DirCost$", "OppCost$", "VWAP")

	for _, g := range groups {
		table.Append(
			g.EventID,
			string(g.State),
			fmt.Sprintf("%.1f", g.QDir),
			fmt.Sprintf("%.1f", g.QOpp),
			fmt.Sprintf("%.1f", g.Imbalance()),
			fmt.Sprintf("%.1f", g.DMax),
			fmt.Sprintf("%.1f", g.MergedQty),
			fmt.Sprintf("$%.2f", g.DirCostUSD),
			fmt.Sprintf("$%.2f", g.OppCostUSD),
			fmt.Sprintf("%.3f", g.DirectionalVWAP()),
		)
	}
	table.Render()
	fmt.Fprintln(c.out, "  d = q_dir - q_opp | VWAP = directional cost per share incl. merged")
	fmt.Fprintln(c.out)
}

// HedgeGridRow is one scored ratio in the optimizer report.
type HedgeGridRow struct {
	Ratio       float64
	TotalPnL    float64
	MaxDrawdown float64
	Objective   float64
}

// PrintHedgeGrid renders a hedge ratio grid search, best row marked.
func (c *Console) PrintHedgeGrid(samples int, grid []HedgeGridRow, bestRatio float64) {
	fmt.Fprintf(c.out, "\n=== HEDGE RATIO GRID (%d settled groups) ===\n", samples)

	table := tablewriter.NewWriter(c.out)
	table.Header("Ratio", "Total PnL", "Max DD", "Objective", "")

	for _, ev := range grid {
		mark := ""
		if ev.Ratio == bestRatio {
			mark = "<< best"
		}
		table.Append(
			fmt.Sprintf("%.2f", ev.Ratio),
			fmt.Sprintf("$%.2f", ev.TotalPnL),
			fmt.Sprintf("$%.2f", ev.MaxDrawdown),
			fmt.Sprintf("%.2f", ev.Objective),
			mark,
		)
	}
	table.Render()
	fmt.Fprintf(c.out, "  objective = total_pnl - dd_penalty × max_drawdown\n\n")
}

func stamp() string {
	return time.Now().Format("15:04:05")
}
