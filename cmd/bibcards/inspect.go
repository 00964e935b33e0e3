package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/bibcards/internal/core"
)

func newInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect FILE.csv",
		Short: "List the participants of a CSV file in bib order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			participants, err := readParticipants(args[0])
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(participants))
			for _, p := range participants {
				rows = append(rows, []string{p.BibNumber, p.ParticipantName, p.EventName, p.RaceCategory, p.Date})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(
				[]string{"Bib", "Name", "Event", "Category", "Date"},
				rows,
				[]columnAlignment{alignRight},
			))
			fmt.Fprintf(out, "%d participants\n", len(participants))
			return nil
		},
	}
}

// readParticipants parses and sorts a participant file without a session.
func readParticipants(path string) ([]core.Participant, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open participants: %w", err)
	}
	defer f.Close()

	var size int64
	if info, err := f.Stat(); err == nil {
		size = info.Size()
	}
	parsed, err := core.ParseParticipants(f, core.ParseOptions{Size: size})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return core.SortParticipants(parsed), nil
}
