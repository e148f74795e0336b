package cmds

import (
	"encoding/json"
	"io"
	"os"

	"github.com/go-go-golems/chatfold/pkg/patch"
	"github.com/go-go-golems/chatfold/pkg/plan"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type patchResult struct {
	Document interface{}  `json:"document" yaml:"document"`
	Report   patch.Report `json:"report" yaml:"report"`
	Dropped  []int        `json:"dropped,omitempty" yaml:"dropped,omitempty"`
	Resynced bool         `json:"resynced,omitempty" yaml:"resynced,omitempty"`
	Changed  []int        `json:"changed,omitempty" yaml:"changed,omitempty"`
}

func NewPatchCommand() *cobra.Command {
	var output string
	var asPlan bool
	cmd := &cobra.Command{
		Use:   "patch <document.json> <operations.json>",
		Short: "Apply a JSON patch to a document and report skipped operations",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := runPatch(args[0], args[1], asPlan)
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), output, res)
		},
	}
	cmd.Flags().StringVar(&output, "output", "json", "Output format (yaml, json)")
	cmd.Flags().BoolVar(&asPlan, "plan", false, "Validate the document as a plan and merge the result")
	return cmd
}

func readFile(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read %s", path)
	}
	return b, nil
}

func runPatch(docPath, opsPath string, asPlan bool) (*patchResult, error) {
	docRaw, err := readFile(docPath)
	if err != nil {
		return nil, err
	}
	opsRaw, err := readFile(opsPath)
	if err != nil {
		return nil, err
	}

	ops, dropped, err := patch.ParseOperations(opsRaw)
	if err != nil {
		return nil, err
	}
	if len(dropped) > 0 {
		log.Warn().Ints("dropped", dropped).Msg("operations without op or path were dropped")
	}

	if asPlan {
		d := plan.NewDomain()
		p, err := d.DecodeSnapshot(docRaw)
		if err != nil {
			return nil, err
		}
		next, res, err := d.ApplyDelta(p, ops)
		if err != nil {
			return nil, err
		}
		return &patchResult{
			Document: next,
			Report:   res.Patch,
			Dropped:  dropped,
			Resynced: res.Resynced,
			Changed:  res.Changed,
		}, nil
	}

	var doc interface{}
	if err := json.Unmarshal(docRaw, &doc); err != nil {
		return nil, errors.Wrapf(err, "%s is not valid JSON", docPath)
	}
	out, report := patch.ApplyDocument(doc, ops)
	return &patchResult{Document: out, Report: report, Dropped: dropped}, nil
}
