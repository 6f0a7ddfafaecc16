package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/petems/whisper-listen/internal/clipboard"
	"github.com/petems/whisper-listen/internal/store"
)

func newHistoryCmd(g *globals) *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List stored transcriptions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := g.setup()
			if err != nil {
				return err
			}
			db, err := openStore(cfg, log)
			if err != nil {
				return err
			}
			defer db.Close()

			page, err := db.List(cmd.Context(), limit, offset)
			if err != nil {
				return err
			}
			printPage(cmd.OutOrStdout(), page, offset, "No transcriptions yet")
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum entries to show")
	cmd.Flags().IntVar(&offset, "offset", 0, "entries to skip")
	return cmd
}

func newSearchCmd(g *globals) *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Find transcriptions containing every word of query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := g.setup()
			if err != nil {
				return err
			}
			db, err := openStore(cfg, log)
			if err != nil {
				return err
			}
			defer db.Close()

			page, err := db.Search(cmd.Context(), args[0], limit, offset)
			if err != nil {
				return err
			}
			printPage(cmd.OutOrStdout(), page, offset, fmt.Sprintf("No transcriptions match %q", args[0]))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum entries to show")
	cmd.Flags().IntVar(&offset, "offset", 0, "entries to skip")
	return cmd
}

func newDeleteCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete one transcription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			cfg, log, err := g.setup()
			if err != nil {
				return err
			}
			db, err := openStore(cfg, log)
			if err != nil {
				return err
			}
			defer db.Close()

			ok, err := db.Delete(cmd.Context(), id)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("transcription %d: %w", id, store.ErrNotFound)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted transcription %d\n", id)
			return nil
		},
	}
}

func newClearCmd(g *globals) *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every transcription",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return errors.New("refusing to clear history without --confirm")
			}
			cfg, log, err := g.setup()
			if err != nil {
				return err
			}
			db, err := openStore(cfg, log)
			if err != nil {
				return err
			}
			defer db.Close()

			n, err := db.DeleteAll(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d transcription(s)\n", n)
			return nil
		},
	}

	cmd.Flags().BoolVar(&confirm, "confirm", false, "confirm deletion of the whole history")
	return cmd
}

func newExportCmd(g *globals) *cobra.Command {
	var format, output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the history, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != store.FormatJSON && format != store.FormatText {
				return fmt.Errorf("unknown format %q; valid values: json, txt", format)
			}
			cfg, log, err := g.setup()
			if err != nil {
				return err
			}
			db, err := openStore(cfg, log)
			if err != nil {
				return err
			}
			defer db.Close()

			if output == "" || output == "-" {
				return db.Export(cmd.Context(), cmd.OutOrStdout(), format)
			}

			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("create %q: %w", output, err)
			}
			if err := db.Export(cmd.Context(), f, format); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Exported history to %s\n", output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", store.FormatJSON, "output format: json or txt")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	return cmd
}

func newCopyCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "copy <id>",
		Short: "Copy a transcription to the clipboard",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			cfg, log, err := g.setup()
			if err != nil {
				return err
			}
			db, err := openStore(cfg, log)
			if err != nil {
				return err
			}
			defer db.Close()

			rec, err := db.Get(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("transcription %d: %w", id, err)
			}
			if err := clipboard.New().Copy(rec.Text); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Copied transcription %d\n", id)
			return nil
		},
	}
}

func printPage(w io.Writer, page store.Page, offset int, empty string) {
	if len(page.Entries) == 0 {
		fmt.Fprintln(w, empty)
		return
	}
	for i := range page.Entries {
		rec := &page.Entries[i]
		fmt.Fprintf(w, "#%-5d %s\n", rec.ID, store.FormatLine(rec))
	}

	first := max(offset, 0) + 1
	last := first + len(page.Entries) - 1
	fmt.Fprintf(w, "\nShowing %d-%d of %d", first, last, page.TotalCount)
	if page.HasMore {
		fmt.Fprintf(w, " (next: --offset %d)", last)
	}
	fmt.Fprintln(w)
}

func parseID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}
