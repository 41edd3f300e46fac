package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/sensitivity-cli/internal/model"
	"github.com/sells-group/sensitivity-cli/internal/store"
	"github.com/sells-group/sensitivity-cli/internal/workflow"
)

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Classify one table",
	Long:  "Runs the classification workflow for a table description read from a file or stdin and prints the final state as JSON.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		queryPath, _ := cmd.Flags().GetString("query")
		categoryFlag, _ := cmd.Flags().GetString("category")
		noRecord, _ := cmd.Flags().GetBool("no-record")

		query, err := readQuery(queryPath, cmd.InOrStdin())
		if err != nil {
			return err
		}

		env, err := initClassifyEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		r := &runner{classifier: env.Classifier}
		if !noRecord {
			r.store = env.Store
		}

		out, runErr := r.run(ctx, workflow.Input{
			Query:    query,
			Category: parseCategoryFlag(categoryFlag),
		})
		if out != nil && out.Result != nil {
			if err := writeJSON(os.Stdout, out.Result.State, true); err != nil {
				return eris.Wrap(err, "classify: write state")
			}
		}
		if runErr != nil {
			return eris.Wrap(runErr, "classify")
		}
		return nil
	},
}

func init() {
	classifyCmd.Flags().String("query", "-", "file holding the table description JSON (- for stdin)")
	classifyCmd.Flags().String("category", "", "allowed categories as a JSON array or comma-separated list")
	classifyCmd.Flags().Bool("no-record", false, "do not record the run in the store")
	rootCmd.AddCommand(classifyCmd)
}

// readQuery returns the table description as text. path "-" reads stdin.
func readQuery(path string, stdin io.Reader) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "" || path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", eris.Wrap(err, "read query")
	}
	q := strings.TrimSpace(string(data))
	if q == "" {
		return "", eris.New("query is empty")
	}
	return q, nil
}

// parseCategoryFlag accepts a JSON value or a comma-separated list. An empty
// flag yields nil so the default categories apply.
func parseCategoryFlag(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// classifier runs the workflow for one table.
type classifier interface {
	Classify(ctx context.Context, in workflow.Input, opts ...workflow.RunOption) (*workflow.Result, error)
}

// runner executes the workflow and records the run when a store is set.
type runner struct {
	classifier classifier
	store      store.Store // may be nil
}

type runOutput struct {
	RunID  string
	Result *workflow.Result
}

// run classifies in. Store failures are logged and never fail the run.
func (r *runner) run(ctx context.Context, in workflow.Input) (*runOutput, error) {
	out := &runOutput{}
	queryText := encodeQuery(in.Query)
	tableName := ""
	if q, err := model.ParseTableQuery(in.Query); err == nil {
		tableName = q.TbName
	}

	// Recording outlives a cancelled request so failed runs are kept.
	recordCtx := context.WithoutCancel(ctx)
	if r.store != nil {
		run, err := r.store.CreateRun(recordCtx, tableName, queryText)
		if err != nil {
			zap.L().Warn("failed to record run start", zap.String("table", tableName), zap.Error(err))
		} else {
			out.RunID = run.ID
		}
	}

	rec := newRunRecorder(out.RunID)
	res, err := r.classifier.Classify(ctx, in, workflow.WithObserver(rec.observe))
	out.Result = res

	if r.store != nil && out.RunID != "" {
		outcome := rec.outcome(res, err)
		if ferr := r.store.FinishRun(recordCtx, out.RunID, outcome); ferr != nil {
			zap.L().Warn("failed to record run outcome",
				zap.String("run_id", out.RunID),
				zap.Error(ferr),
			)
		}
	}
	return out, err
}

// runRecorder turns workflow events into node execution rows. The workflow
// calls observers from a single goroutine.
type runRecorder struct {
	runID string
	nodes []model.NodeExecution
	now   func() time.Time
}

func newRunRecorder(runID string) *runRecorder {
	return &runRecorder{runID: runID, now: time.Now}
}

func (r *runRecorder) observe(ev workflow.Event) {
	n := model.NodeExecution{
		RunID:      r.runID,
		Node:       ev.Node,
		Step:       ev.Step,
		Status:     model.NodeStatusComplete,
		DurationMs: ev.Duration.Milliseconds(),
		StartedAt:  r.now().Add(-ev.Duration),
	}
	switch {
	case ev.Err != nil:
		n.Status = model.NodeStatusFailed
		n.Error = ev.Err.Error()
	case ev.Recovered:
		n.Status = model.NodeStatusRecovered
	}
	for _, k := range ev.Keys {
		n.Keys = append(n.Keys, string(k))
	}
	r.nodes = append(r.nodes, n)
}

// outcome builds the store record for a finished run.
func (r *runRecorder) outcome(res *workflow.Result, runErr error) store.RunOutcome {
	out := store.RunOutcome{
		Status: model.RunStatusComplete,
		Nodes:  r.nodes,
	}
	if res != nil {
		out.Attempts = res.Attempts
		var buf bytes.Buffer
		if err := writeJSON(&buf, res.State, false); err != nil {
			zap.L().Warn("failed to encode run state", zap.Error(err))
		} else {
			out.State = json.RawMessage(bytes.TrimSpace(buf.Bytes()))
		}
	}
	if runErr != nil {
		out.Status = model.RunStatusFailed
		out.Error = runErr.Error()
	}
	return out
}

// encodeQuery returns the query as stored in run history.
func encodeQuery(q any) string {
	switch t := q.(type) {
	case nil:
		return ""
	case string:
		return t
	}
	var buf bytes.Buffer
	if err := writeJSON(&buf, q, false); err != nil {
		return ""
	}
	return strings.TrimSpace(buf.String())
}

// writeJSON encodes v without HTML escaping so that table text survives
// verbatim.
func writeJSON(w io.Writer, v any, indent bool) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if indent {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}
