package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/roach88/phosphoros/internal/ir"
	"github.com/roach88/phosphoros/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Session  string // optional - restrict to one session
	Op       string // optional - filter to one renderer op
}

// TraceCall is one renderer call in the timeline.
type TraceCall struct {
	Seq     int64                  `json:"seq"`
	ID      string                 `json:"id"`
	Session string                 `json:"session,omitempty"`
	Op      string                 `json:"op"`
	Handle  uint64                 `json:"handle,omitempty"`
	Args    map[string]interface{} `json:"args,omitempty"`
	Outcome string                 `json:"outcome"`
	Error   string                 `json:"error,omitempty"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Version  string             `json:"trace_version"`
	Session  string             `json:"session,omitempty"`
	Sessions []ir.SessionRecord `json:"sessions"`
	Timeline []TraceCall        `json:"timeline"`
	Stats    TraceStats         `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	Calls  int            `json:"calls"`
	Errors int            `json:"errors"`
	PerOp  map[string]int `json:"per_op"`
}

var (
	traceTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	traceHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("#7D56F4"))

	traceSeqStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#626262"))
	traceOpStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#04B575"))
	traceErrorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F87"))

	stateStyles = map[string]lipgloss.Style{
		"Uninitialized": lipgloss.NewStyle().Foreground(lipgloss.Color("#A8A8A8")),
		"Created":       lipgloss.NewStyle().Foreground(lipgloss.Color("#5FD7FF")),
		"Synced":        lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575")),
		"Rendering":     lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD75F")),
		"Freed":         lipgloss.NewStyle().Foreground(lipgloss.Color("#626262")),
	}
)

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show recorded renderer calls",
		Long: `Show the renderer calls and session states recorded by
'phosphoros render --db'.

The output includes:
- Sessions: the last known state of each session
- Timeline: renderer calls in seq order with their outcome
- Stats: call counts per op and the number of failed calls

Examples:
  phosphoros trace --db ./phosphoros.db
  phosphoros trace --db ./phosphoros.db --session 0192...
  phosphoros trace --db ./phosphoros.db --op render --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Session, "session", "", "session id to trace")
	cmd.Flags().StringVar(&opts.Op, "op", "", "filter to one renderer op")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	out := newFormatter(opts.RootOptions, cmd)

	// store.Open would create a missing database; trace only reads.
	if _, err := os.Stat(opts.Database); err != nil {
		return out.Fail(ExitCommandError, CodeStoreFailed, "failed to open database", err)
	}
	if opts.Op != "" && !ir.ValidOps[ir.Op(opts.Op)] {
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown op %q", opts.Op))
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return out.Fail(ExitCommandError, CodeStoreFailed, "failed to open database", err)
	}
	defer st.Close()

	result, err := buildTrace(ctx, st, opts)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			return out.Fail(ExitCommandError, CodeSessionNotFound, fmt.Sprintf("no session %s", opts.Session), err)
		}
		return out.Fail(ExitCommandError, CodeStoreFailed, "failed to read trace", err)
	}

	if opts.Format == "json" {
		return outputTraceJSON(cmd, result)
	}
	return outputTraceText(cmd.OutOrStdout(), result, opts.Verbose)
}

// buildTrace reads sessions and calls, restricted to opts.Session when set.
func buildTrace(ctx context.Context, st *store.Store, opts *TraceOptions) (TraceResult, error) {
	result := TraceResult{
		Version:  ir.TraceVersion,
		Session:  opts.Session,
		Sessions: []ir.SessionRecord{},
		Timeline: []TraceCall{},
		Stats:    TraceStats{PerOp: map[string]int{}},
	}

	var calls []ir.Call
	if opts.Session != "" {
		rec, err := st.GetSession(ctx, opts.Session)
		if err != nil {
			return result, err
		}
		result.Sessions = append(result.Sessions, rec)

		calls, err = st.ReadCalls(ctx, opts.Session)
		if err != nil {
			return result, err
		}
	} else {
		sessions, err := st.ListSessions(ctx)
		if err != nil {
			return result, err
		}
		result.Sessions = append(result.Sessions, sessions...)

		calls, err = st.ReadAllCalls(ctx)
		if err != nil {
			return result, err
		}
	}

	for _, c := range calls {
		if opts.Op != "" && string(c.Op) != opts.Op {
			continue
		}
		result.Timeline = append(result.Timeline, TraceCall{
			Seq:     c.Seq,
			ID:      c.ID,
			Session: c.SessionID,
			Op:      string(c.Op),
			Handle:  c.Handle,
			Args:    irObjectToMap(c.Args),
			Outcome: c.Outcome,
			Error:   c.Error,
		})
		result.Stats.Calls++
		result.Stats.PerOp[string(c.Op)]++
		if c.Outcome != ir.OutcomeOK {
			result.Stats.Errors++
		}
	}
	return result, nil
}

// irObjectToMap converts an ir.IRObject to a plain map.
func irObjectToMap(obj ir.IRObject) map[string]interface{} {
	if len(obj) == 0 {
		return nil
	}
	m, _ := ir.ToGo(obj).(map[string]any)
	return m
}

// outputTraceJSON outputs the trace result as JSON.
func outputTraceJSON(cmd *cobra.Command, result TraceResult) error {
	response := CLIResponse{
		Status: "ok",
		Data:   result,
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}

// outputTraceText outputs the trace result as styled text.
func outputTraceText(w io.Writer, result TraceResult, verbose bool) error {
	title := "Trace"
	if result.Session != "" {
		title += " for Session: " + result.Session
	}
	fmt.Fprintln(w, traceTitleStyle.Render(title))
	fmt.Fprintln(w)

	fmt.Fprintln(w, traceHeaderStyle.Render("=== Sessions ==="))
	if len(result.Sessions) == 0 {
		fmt.Fprintln(w, "  (no sessions)")
	}
	for _, s := range result.Sessions {
		fmt.Fprintf(w, "  %s  owner=%s  %s  handle=%d\n",
			s.ID, s.Owner, styleState(s.State), s.Handle)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, traceHeaderStyle.Render("=== Timeline ==="))
	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "  (no calls)")
	}
	for _, c := range result.Timeline {
		formatTraceCall(w, c, verbose)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, traceHeaderStyle.Render("=== Stats ==="))
	fmt.Fprintf(w, "  Calls:  %d\n", result.Stats.Calls)
	fmt.Fprintf(w, "  Errors: %d\n", result.Stats.Errors)
	ops := make([]string, 0, len(result.Stats.PerOp))
	for op := range result.Stats.PerOp {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	for _, op := range ops {
		fmt.Fprintf(w, "  %-7s %d\n", op+":", result.Stats.PerOp[op])
	}
	return nil
}

func styleState(state string) string {
	if st, ok := stateStyles[state]; ok {
		return st.Render(state)
	}
	return state
}

// formatTraceCall formats a single call for text output.
func formatTraceCall(w io.Writer, c TraceCall, verbose bool) {
	line := fmt.Sprintf("  %s %s", traceSeqStyle.Render(fmt.Sprintf("[%d]", c.Seq)), traceOpStyle.Render(c.Op))
	if c.Session != "" {
		line += " session=" + c.Session
	}
	if c.Handle != 0 {
		line += fmt.Sprintf(" handle=%d", c.Handle)
	}
	if c.Outcome != ir.OutcomeOK {
		line += " " + traceErrorStyle.Render(c.Outcome+": "+c.Error)
	}
	fmt.Fprintln(w, line)

	if verbose {
		if len(c.Args) > 0 {
			fmt.Fprintf(w, "       Args: %s\n", formatArgs(c.Args))
		}
		fmt.Fprintf(w, "       ID: %s\n", truncateID(c.ID))
	}
}

// formatArgs formats a map of args for display.
// Uses sorted keys to ensure deterministic output.
func formatArgs(args map[string]interface{}) string {
	if len(args) == 0 {
		return "{}"
	}

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, formatValue(args[k])))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// formatValue formats a single value for display, handling nested structures deterministically.
func formatValue(v interface{}) string {
	switch val := v.(type) {
	case map[string]interface{}:
		return formatArgs(val)
	case []interface{}:
		parts := make([]string, len(val))
		for i, elem := range val {
			parts[i] = formatValue(elem)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case string:
		return val
	default:
		return fmt.Sprintf("%v", v)
	}
}

// truncateID truncates a long ID for display.
func truncateID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:8] + "..." + id[len(id)-8:]
}
