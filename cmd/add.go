package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tslateman/lore-sub001/internal/conflict"
	apperrors "github.com/tslateman/lore-sub001/internal/errors"
	"github.com/tslateman/lore-sub001/internal/source"
)

var (
	addSummary    string
	addID         string
	addContent    string
	addRefs       []string
	addTags       []string
	addLinks      []string
	addImportance int
	addStdin      bool
	addForce      bool
	addStrict     bool
	addJSON       bool
)

var addCmd = &cobra.Command{
	Use:   "add <kind>",
	Short: "Append a record to its source log after checking for duplicates and contradictions",
	Long: `Appends a record to the source log of <kind>. Near-duplicates of recent records
are refused unless --force is given; possible contradictions are reported as
warnings, or refused with --strict. Kind-specific fields can be supplied by
piping a JSON record with --stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := source.ParseKind(args[0])
		if err != nil {
			return err
		}
		rec, err := buildRecord(kind, cmd.InOrStdin())
		if err != nil {
			return err
		}

		w, err := openWorkspace()
		if err != nil {
			return err
		}
		defer w.Close()

		res, err := addRecord(w, rec, addForce, addStrict)
		if res != nil {
			printAddWarnings(cmd.ErrOrStderr(), res)
		}
		if err != nil {
			return err
		}

		if addJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}
		h := rec.Header()
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s  %s\n",
			styles.Success.Render("✓"), kind, styles.Bold.Render(h.ID), truncTitle(h.Summary, 60))
		return nil
	},
}

func init() {
	f := addCmd.Flags()
	f.StringVar(&addSummary, "summary", "", "One-line summary (required unless --stdin)")
	f.StringVar(&addID, "id", "", "Logical id; a new id is generated when empty")
	f.StringVar(&addContent, "content", "", "Longer free text")
	f.StringSliceVar(&addRefs, "ref", nil, "Referenced file or entity (repeatable)")
	f.StringSliceVar(&addTags, "tag", nil, "Tag, e.g. project:alpha (repeatable)")
	f.StringSliceVar(&addLinks, "link", nil, "Explicit edge as <target>:<relation> (repeatable)")
	f.IntVar(&addImportance, "importance", 0, "Importance from 0 to 5")
	f.BoolVar(&addStdin, "stdin", false, "Read the full record as JSON from stdin")
	f.BoolVar(&addForce, "force", false, "Skip the duplicate and contradiction checks")
	f.BoolVar(&addStrict, "strict", false, "Refuse the write on possible contradictions too")
	f.BoolVar(&addJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(addCmd)
}

// buildRecord assembles a record from the flags, or decodes it from r when
// --stdin is set. Flags fill fields the JSON leaves empty.
func buildRecord(kind source.Kind, r io.Reader) (source.Record, error) {
	rec, err := source.New(kind)
	if err != nil {
		return nil, err
	}
	if addStdin {
		if err := json.NewDecoder(r).Decode(rec); err != nil {
			return nil, apperrors.Input("add", "decoding record from stdin: %v", err)
		}
	}

	h := rec.Header()
	h.Summary = strings.TrimSpace(h.Summary)
	if h.Summary == "" {
		h.Summary = strings.TrimSpace(addSummary)
	}
	if h.Summary == "" {
		return nil, apperrors.Input("add", "--summary is required")
	}
	if h.ID == "" {
		h.ID = addID
	}
	if h.ID == "" {
		h.ID = newRecordID(kind)
	}
	if h.Timestamp.IsZero() {
		h.Timestamp = time.Now().UTC()
	}
	if h.Content == "" {
		h.Content = addContent
	}
	if h.Importance == 0 {
		h.Importance = addImportance
	}
	h.Refs = append(h.Refs, addRefs...)
	h.Tags = append(h.Tags, addTags...)
	for _, l := range addLinks {
		link, err := parseLink(l)
		if err != nil {
			return nil, err
		}
		h.Links = append(h.Links, link)
	}
	return rec, nil
}

func newRecordID(kind source.Kind) string {
	prefix := string(kind)
	if len(prefix) > 3 {
		prefix = prefix[:3]
	}
	return prefix + "-" + uuid.NewString()[:8]
}

// parseLink splits "<target>:<relation>" at the last colon so targets such
// as project:alpha keep theirs.
func parseLink(s string) (source.Link, error) {
	i := strings.LastIndex(s, ":")
	if i <= 0 || i == len(s)-1 {
		return source.Link{}, apperrors.Input("add", "link %q must be <target>:<relation>", s)
	}
	return source.Link{To: s[:i], Relation: s[i+1:]}, nil
}

// addResult reports what the conflict gate saw and whether the record was written.
type addResult struct {
	Kind           source.Kind              `json:"kind"`
	ID             string                   `json:"id"`
	Written        bool                     `json:"written"`
	Forced         bool                     `json:"forced,omitempty"`
	Duplicate      conflict.DuplicateResult `json:"duplicate"`
	Contradictions []conflict.Contradiction `json:"contradictions,omitempty"`
}

// addRecord runs the conflict gate against the recent records of the same
// kind and appends rec. A duplicate is refused unless force is set;
// contradictions only refuse the write under strict.
func addRecord(w *workspace, rec source.Record, force, strict bool) (*addResult, error) {
	if err := source.Validate(rec); err != nil {
		return nil, err
	}
	h := rec.Header()
	res := &addResult{Kind: rec.Kind(), ID: h.ID, Forced: force}
	log := w.sources.Log(rec.Kind())

	if !force {
		det := w.Detector()
		recent, err := log.Recent(det.Config().RecentWindow)
		if err != nil {
			return nil, err
		}
		res.Duplicate = det.CheckDuplicate(h.Summary+" "+h.Content, recent, h.ID)
		res.Contradictions = det.CheckContradiction(rec, recent)

		if res.Duplicate.Duplicate {
			return res, apperrors.Conflict("add",
				"near-duplicate of %s %s (%.0f%% similar); use --force to write anyway",
				rec.Kind(), res.Duplicate.MatchID, res.Duplicate.Similarity*100)
		}
		if strict && len(res.Contradictions) > 0 {
			return res, apperrors.Conflict("add",
				"possible contradiction with %s %s; drop --strict or use --force to write anyway",
				rec.Kind(), res.Contradictions[0].MatchID)
		}
	}

	if err := log.Append(rec); err != nil {
		return res, err
	}
	res.Written = true
	w.log.Info("record appended", zap.Stringer("record", source.KeyOf(rec)))
	return res, nil
}

func printAddWarnings(w io.Writer, res *addResult) {
	if d := res.Duplicate; d.Duplicate {
		fmt.Fprintf(w, "%s duplicate of %s (%.0f%%): %s\n",
			styles.Warning.Render("warning:"), d.MatchID, d.Similarity*100, truncTitle(d.MatchSummary, 60))
	}
	for _, c := range res.Contradictions {
		fmt.Fprintf(w, "%s may contradict %s (shares %s): %s\n",
			styles.Warning.Render("warning:"), c.MatchID, strings.Join(c.Shared, ", "), truncTitle(c.MatchSummary, 60))
	}
}
