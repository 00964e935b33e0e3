package main

import (
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/bibcards/internal/core"
)

func newGenerateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "generate FILE.csv",
		Short: "Derive the barcode of every participant and report fallbacks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.newService(nil)
			if err != nil {
				return err
			}
			defer svc.Close()

			sess, err := loadSession(svc, args[0])
			if err != nil {
				return err
			}

			stop := trackProgress(sess, cmd.ErrOrStderr())
			err = svc.Generate(cmd.Context(), sess.ID)
			stop()
			if err != nil {
				return err
			}

			barcodes := sess.Barcodes()
			var fallbacks [][]string
			for _, p := range sess.Participants() {
				if a, ok := barcodes[p.BibNumber]; ok && a.Fallback {
					fallbacks = append(fallbacks, []string{p.BibNumber, p.ParticipantName, core.FallbackLabel(p.QRData)})
				}
			}
			fallbacks = slices.CompactFunc(fallbacks, func(a, b []string) bool { return a[0] == b[0] })

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d barcodes generated, %d fallback\n", len(barcodes), len(fallbacks))
			if len(fallbacks) > 0 {
				fmt.Fprintln(out, renderTable([]string{"Bib", "Name", "Fallback"}, fallbacks, []columnAlignment{alignRight}))
			}
			return nil
		},
	}
}

// loadSession creates a session on svc and ingests the participant file.
func loadSession(svc *core.Service, path string) (*core.Session, error) {
	sess, err := svc.CreateSession()
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open participants: %w", err)
	}
	defer f.Close()

	var size int64
	if info, err := f.Stat(); err == nil {
		size = info.Size()
	}
	if _, err := sess.Ingest(f, size); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sess, nil
}
