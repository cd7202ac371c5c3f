package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/normanking/netbot/internal/data"
	"github.com/normanking/netbot/internal/retrieval"
)

// ═══════════════════════════════════════════════════════════════════════════════
// INGEST / DATASETS COMMANDS
// ═══════════════════════════════════════════════════════════════════════════════

func ingestCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "ingest [file.txt...]",
		Short: "Embed knowledge files into datasets",
		Long: `Ingest chunks and embeds knowledge files. Without arguments every
<data_dir>/*.txt file is ingested; unchanged files are skipped unless --force.
The dataset id is the file name without extension.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, pipeline, err := openData(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := context.Background()
			var results []*retrieval.IngestResult

			if len(args) == 0 {
				log.Info("Ingesting %s", pipeline.DataDir())
				results, err = pipeline.IngestDir(ctx, force)
				if err != nil {
					return err
				}
			} else {
				for _, path := range args {
					abs, err := filepath.Abs(path)
					if err != nil {
						return err
					}
					res, err := pipeline.Ingest(ctx, retrieval.DatasetID(abs), abs, force)
					if err != nil {
						return fmt.Errorf("ingest %s: %w", path, err)
					}
					results = append(results, res)
				}
			}

			if len(results) == 0 {
				fmt.Printf("No knowledge files found in %s\n", pipeline.DataDir())
				return nil
			}
			for _, r := range results {
				if r.Skipped {
					fmt.Printf("  %-36s unchanged\n", r.Dataset)
					continue
				}
				fmt.Printf("  %-36s %d chunks, dim %d (%v)\n", r.Dataset, r.Chunks, r.Dimension, r.Duration.Round(time.Millisecond))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "re-embed files even when unchanged")
	return cmd
}

func datasetsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "datasets",
		Short: "List ingested datasets",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, pipeline, err := openData(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			datasets, err := pipeline.ListDatasets(context.Background())
			if err != nil {
				return fmt.Errorf("failed to list datasets: %w", err)
			}
			if len(datasets) == 0 {
				fmt.Println("No datasets. Put <name>.txt files in", pipeline.DataDir(), "and run 'netbot ingest'.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "DATASET\tCHUNKS\tDIM\tMODEL\tUPDATED")
			for _, ds := range datasets {
				fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\n", ds.ID, ds.ChunkCount, ds.Dimension, ds.EmbedModel, ds.UpdatedAt.Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "delete [dataset]",
		Short: "Delete a dataset and its chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, _, err := openData(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			id := strings.TrimSpace(args[0])
			if err := db.DeleteDataset(context.Background(), id); err != nil {
				return fmt.Errorf("failed to delete %s: %w", id, err)
			}
			fmt.Printf("Deleted dataset %s\n", id)
			return nil
		},
	})

	return cmd
}

func turnsCmd() *cobra.Command {
	var (
		session  string
		limit    int
		personas bool
	)

	cmd := &cobra.Command{
		Use:   "turns",
		Short: "Show the conversation turn log",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, _, err := openData(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := context.Background()
			if personas {
				counts, err := db.PersonaCounts(ctx)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "PERSONA\tTURNS")
				for key, n := range counts {
					fmt.Fprintf(w, "%s\t%d\n", key, n)
				}
				return w.Flush()
			}

			var turns []*data.Turn
			if session != "" {
				turns, err = db.SessionTurns(ctx, session, limit)
			} else {
				turns, err = db.RecentTurns(ctx, limit)
			}
			if err != nil {
				return err
			}
			if len(turns) == 0 {
				fmt.Println("No turns recorded.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tSESSION\tPERSONA\tPATH\tQUERY")
			for _, t := range turns {
				query := t.Query
				if len(query) > 60 {
					query = query[:57] + "..."
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.CreatedAt.Format("2006-01-02 15:04:05"), t.SessionID, t.Persona, t.Path, query)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&session, "session", "", "only show turns of this session")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of turns")
	cmd.Flags().BoolVar(&personas, "personas", false, "count turns per persona instead")
	return cmd
}
