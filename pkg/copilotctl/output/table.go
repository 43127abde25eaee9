package output

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/telekom/copilot-gateway/pkg/copilot"
	"github.com/telekom/copilot-gateway/pkg/stats"
)

func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
}

// WriteModelTable prints models grouped by picker category.
func WriteModelTable(w io.Writer, models []copilot.Model) {
	writeModelGroups(w, models, false)
}

// WriteModelTableWide adds vendor, limits and capability columns.
func WriteModelTableWide(w io.Writer, models []copilot.Model) {
	writeModelGroups(w, models, true)
}

func writeModelGroups(w io.Writer, models []copilot.Model, wide bool) {
	groups := copilot.GroupModels(models)
	if len(groups) == 0 {
		_, _ = fmt.Fprintln(w, "No models available.")
		return
	}
	for i, g := range groups {
		if i > 0 {
			_, _ = fmt.Fprintln(w)
		}
		_, _ = fmt.Fprintf(w, "%s (%d)\n", g.Category.Label(), len(g.Models))
		tw := newTabWriter(w)
		if wide {
			_, _ = fmt.Fprintln(tw, "ID\tNAME\tVENDOR\tCTX\tOUT\tVISION\tTHINKING")
		} else {
			_, _ = fmt.Fprintln(tw, "ID\tNAME\tCTX\tOUT")
		}
		for _, m := range g.Models {
			name := m.Name
			if m.Preview {
				name += " (Preview)"
			}
			limits := m.Capabilities.Limits
			if wide {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", m.ID, name, dash(m.Vendor),
					kTokens(limits.MaxContextWindowTokens), kTokens(limits.MaxOutputTokens),
					yesNo(m.Capabilities.Supports.Vision), yesNo(m.Thinking()))
			} else {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.ID, name,
					kTokens(limits.MaxContextWindowTokens), kTokens(limits.MaxOutputTokens))
			}
		}
		_ = tw.Flush()
	}
}

// WriteUsage prints subscription details followed by one row per quota.
func WriteUsage(w io.Writer, usage *copilot.Usage) {
	tw := newTabWriter(w)
	_, _ = fmt.Fprintf(tw, "Plan:\t%s\n", dash(usage.Plan()))

	chat := "-"
	if enabled := usage.ChatEnabled(); enabled != nil {
		chat = "disabled"
		if *enabled {
			chat = "enabled"
		}
	}
	_, _ = fmt.Fprintf(tw, "Chat:\t%s\n", chat)

	expires := "-"
	if exp, ok := usage.TokenExpiry(); ok {
		expires = formatTime(exp.UTC())
	}
	_, _ = fmt.Fprintf(tw, "Token expires:\t%s\n", expires)

	renewal := "-"
	if at, estimated, ok := usage.Renewal(); ok {
		renewal = at.UTC().Format("2006-01-02")
		if estimated {
			renewal += " (estimated)"
		}
	}
	_, _ = fmt.Fprintf(tw, "Renewal:\t%s\n", renewal)
	_ = tw.Flush()

	quotas := usage.Quotas()
	if len(quotas) == 0 {
		return
	}
	_, _ = fmt.Fprintln(w)
	tw = newTabWriter(w)
	_, _ = fmt.Fprintln(tw, "QUOTA\tREMAINING\tPERCENT")
	for _, nq := range quotas {
		q := nq.Quota
		remaining, limit := "-", "-"
		if q.Unlimited {
			remaining, limit = "unlimited", "unlimited"
		} else {
			if q.Remaining != nil {
				remaining = number(*q.Remaining)
			}
			if q.Entitlement != nil {
				limit = number(*q.Entitlement)
			}
		}
		cell := remaining + " / " + limit
		if q.Exhausted() {
			cell = color.RedString(cell)
		}
		pct := "-"
		if p, ok := q.Percent(); ok {
			pct = strconv.Itoa(p) + "%"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", nq.Label, cell, pct)
		if n, ok := q.OverageRequests(); ok {
			_, _ = fmt.Fprintf(tw, "  overage\t%s\t\n", color.YellowString(number(n)))
		}
	}
	_ = tw.Flush()
}

// WriteStats prints the request counters with the success rate.
func WriteStats(w io.Writer, snap stats.Snapshot) {
	tw := newTabWriter(w)
	_, _ = fmt.Fprintln(tw, "TOTAL\tSUCCESS\tFAIL\tRETRIES\tSUCCESS_RATE")
	rate := "-"
	if snap.Total > 0 {
		rate = strconv.FormatFloat(float64(snap.Success)/float64(snap.Total)*100, 'f', 1, 64) + "%"
	}
	_, _ = fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%s\n", snap.Total, snap.Success, snap.Fail, snap.Retries, rate)
	_ = tw.Flush()
}

// WriteKeyValues prints key/value pairs in the given order.
func WriteKeyValues(w io.Writer, keys []string, values map[string]string) {
	tw := newTabWriter(w)
	_, _ = fmt.Fprintln(tw, "KEY\tVALUE")
	for _, k := range keys {
		_, _ = fmt.Fprintf(tw, "%s\t%s\n", k, dash(values[k]))
	}
	_ = tw.Flush()
}

// kTokens renders a token limit in thousands, matching the model picker.
func kTokens(n int) string {
	if n <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.0fK", float64(n)/1000)
}

func number(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}
