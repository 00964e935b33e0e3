package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/bibcards/internal/core"
	"github.com/JonMunkholm/bibcards/internal/render"
)

type exportFlags struct {
	outDir      string
	transparent bool
	textOnly    bool
	theme       string
	background  string
	scale       int
}

func newExportCommand(ctx *commandContext) *cobra.Command {
	var flags exportFlags

	cmd := &cobra.Command{
		Use:   "export FILE.csv",
		Short: "Render every card and write a zip archive of PNG images",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, ctx, flags, args[0])
		},
	}

	cmd.Flags().StringVarP(&flags.outDir, "output", "o", ".", "Directory to write the archive to")
	cmd.Flags().BoolVar(&flags.transparent, "transparent", false, "Render without any background fill")
	cmd.Flags().BoolVar(&flags.textOnly, "text-only", false, "Hide the decorative punch holes")
	cmd.Flags().StringVar(&flags.theme, "theme", core.DefaultTheme, "Card theme")
	cmd.Flags().StringVar(&flags.background, "background", "", "Background image file")
	cmd.Flags().IntVar(&flags.scale, "scale", 0, "Rasterization scale (default from EXPORT_SCALE)")

	return cmd
}

func runExport(cmd *cobra.Command, ctx *commandContext, flags exportFlags, path string) error {
	svc, err := ctx.newService(func(o *core.Options) {
		if flags.scale > 0 {
			o.Export.Scale = flags.scale
		}
	})
	if err != nil {
		return err
	}
	defer svc.Close()

	sess, err := loadSession(svc, path)
	if err != nil {
		return err
	}
	if err := sess.SetTheme(flags.theme); err != nil {
		return err
	}
	if flags.background != "" {
		data, err := os.ReadFile(flags.background)
		if err != nil {
			return fmt.Errorf("read background: %w", err)
		}
		cfg, err := ctx.config()
		if err != nil {
			return err
		}
		mediaType, err := render.SniffImage(data, cfg.Upload.MaxImagePixels)
		if err != nil {
			return fmt.Errorf("%s: %w", flags.background, err)
		}
		sess.SetBackground(data, mediaType)
	}

	stop := trackProgress(sess, cmd.ErrOrStderr())
	defer stop()

	if err := svc.Generate(cmd.Context(), sess.ID); err != nil {
		return err
	}
	archive, err := svc.Export(cmd.Context(), sess.ID, core.ExportOptions{
		Transparent: flags.transparent,
		TextOnly:    flags.textOnly,
	})
	if err != nil {
		return err
	}

	if err := os.MkdirAll(flags.outDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	dest := filepath.Join(flags.outDir, archive.Name)
	if err := os.WriteFile(dest, archive.Data, 0o644); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "wrote %s (%d cards)\n", dest, archive.Files)
	if len(archive.Skipped) > 0 {
		fmt.Fprintf(out, "skipped %d cards: %v\n", len(archive.Skipped), archive.Skipped)
	}
	return nil
}
