package main

import (
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/greynewell/intentd/cli"
	"github.com/greynewell/intentd/errors"
	"github.com/greynewell/intentd/output"
)

// collectHeader is written to a new data file so bench finds the text
// column by name.
var collectHeader = []string{"text", "label"}

type labeledUtterance struct {
	Text  string `json:"text"`
	Label string `json:"label"`
}

func newCollectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collect <datafile> <label> <text>...",
		Short: "Append a labeled utterance to a TSV data file",
		Long: "Appends one text/label row to the tab-separated data file that bench reads,\n" +
			"creating it with a header row if it does not exist. The text is the\n" +
			"remaining arguments joined by spaces.",
		Args: cli.MinimumArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			u := labeledUtterance{
				Label: strings.TrimSpace(args[1]),
				Text:  strings.TrimSpace(strings.Join(args[2:], " ")),
			}
			if err := appendUtterance(args[0], u); err != nil {
				return err
			}
			return (&output.Writer{Format: output.FormatJSON, W: cmd.OutOrStdout()}).JSON(u)
		},
	}
	return cmd
}

// appendUtterance adds u as a row of the data file at path.
func appendUtterance(path string, u labeledUtterance) error {
	if u.Text == "" {
		return errors.Input("utterance text is empty")
	}
	if u.Label == "" {
		return errors.Input("label is empty")
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return errors.Wrapf(errors.CodeNotFound, err, "data file %s", path)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return errors.Wrapf(errors.CodeInternal, err, "stat %s", path)
	}
	if err := writeRows(f, info.Size() == 0, u); err != nil {
		return errors.Wrapf(errors.CodeInternal, err, "write %s", path)
	}
	return nil
}

func writeRows(w io.Writer, header bool, u labeledUtterance) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	if header {
		if err := cw.Write(collectHeader); err != nil {
			return err
		}
	}
	if err := cw.Write([]string{u.Text, u.Label}); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}
