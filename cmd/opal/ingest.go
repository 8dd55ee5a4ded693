package main

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/opal/internal/db"
	"github.com/zulandar/opal/internal/ingest"
	"github.com/zulandar/opal/internal/models"
)

func newIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Feed documents and capability registries into OPAL",
	}

	cmd.AddCommand(newIngestFileCmd("pdf", "Upload PDF documents", ingest.KindPDF))
	cmd.AddCommand(newIngestFileCmd("yaml", "Upload capability-registry YAML files", ingest.KindYAML))
	cmd.AddCommand(newIngestURLCmd())
	cmd.AddCommand(newIngestWatchCmd())
	cmd.AddCommand(newIngestHistoryCmd())
	return cmd
}

// openIngester builds an Ingester backed by the API client and local store.
func openIngester(ctx context.Context, configPath string) (*app, *ingest.Ingester, error) {
	a, err := openApp(ctx, configPath, appOpts{store: true})
	if err != nil {
		return nil, nil, err
	}
	ing, err := ingest.NewIngester(a.api, a.db)
	if err != nil {
		return nil, nil, err
	}
	return a, ing, nil
}

func newIngestFileCmd(use, short, kind string) *cobra.Command {
	var (
		configPath string
		opts       ingest.FileOpts
	)

	cmd := &cobra.Command{
		Use:   use + " <file>...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range args {
				if k := ingest.KindOf(path); k != kind {
					return fmt.Errorf("ingest: %s is not a %s file", path, kind)
				}
			}
			if opts.Title != "" && len(args) > 1 {
				return fmt.Errorf("ingest: --title applies to a single file")
			}

			ctx := context.Background()
			_, ing, err := openIngester(ctx, configPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			var failed int
			for _, path := range args {
				rec, skipped, err := ing.IngestFile(ctx, path, opts)
				switch {
				case err != nil:
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "Failed %s: %v\n", path, err)
				case skipped:
					fmt.Fprintf(out, "Skipped %s (unchanged since %s; use --force to re-send)\n", path, formatTime(rec.CreatedAt))
				default:
					fmt.Fprintf(out, "Ingested %s: %s\n", path, rec.Message)
				}
			}
			if failed > 0 {
				return fmt.Errorf("ingest: %d of %d files failed", failed, len(args))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to OPAL config file")
	if kind == ingest.KindPDF {
		cmd.Flags().StringVar(&opts.Title, "title", "", "document title (default derived from the file name)")
		cmd.Flags().StringVar(&opts.Description, "description", "", "document description")
	}
	cmd.Flags().BoolVar(&opts.Force, "force", false, "upload even if identical content was ingested before")
	return cmd
}

func newIngestURLCmd() *cobra.Command {
	var (
		configPath string
		req        models.IngestURLRequest
	)

	cmd := &cobra.Command{
		Use:   "url <url>",
		Short: "Scrape and ingest a web page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.URL = args[0]
			if req.Title == "" {
				req.Title = req.URL
			}
			ctx := context.Background()
			_, ing, err := openIngester(ctx, configPath)
			if err != nil {
				return err
			}
			rec, err := ing.IngestURL(ctx, req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Ingested %s: %d chunks (%s)\n", req.URL, rec.ChunksCreated, rec.SourceDocumentID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to OPAL config file")
	cmd.Flags().StringVar(&req.Title, "title", "", "document title (default the URL)")
	cmd.Flags().StringVar(&req.Description, "description", "", "document description")
	return cmd
}

func newIngestWatchCmd() *cobra.Command {
	var (
		configPath string
		dir        string
		settle     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch a drop folder and run scheduled URL re-ingests",
		Long:  "Uploads PDF and YAML files dropped into the watch folder and re-ingests the configured URLs on their cron schedules until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			return runIngestWatch(ctx, cmd, configPath, dir, settle)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to OPAL config file")
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "drop folder (default ingest.watch_dir)")
	cmd.Flags().DurationVar(&settle, "settle", 0, "how long a file must be unchanged before upload")
	return cmd
}

func runIngestWatch(ctx context.Context, cmd *cobra.Command, configPath, dir string, settle time.Duration) error {
	a, ing, err := openIngester(ctx, configPath)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if dir == "" {
		dir = a.cfg.Ingest.WatchDir
	}

	sched, err := ingest.NewScheduler(ing, a.cfg.Ingest.Schedules, out)
	if err != nil {
		return err
	}
	if dir == "" && sched.Len() == 0 {
		return fmt.Errorf("ingest: nothing to do; set --dir, ingest.watch_dir or ingest.schedules")
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	run := func(fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}

	if dir != "" {
		w, err := ingest.NewWatcher(ingest.WatcherOpts{
			Ingester:   ing,
			Dir:        dir,
			Extensions: a.cfg.Ingest.Extensions,
			Settle:     settle,
			Out:        out,
		})
		if err != nil {
			return err
		}
		run(w.Run)
	}
	if sched.Len() > 0 {
		printSchedules(cmd, sched.NextRuns(time.Now()))
		run(sched.Run)
	}

	wg.Wait()
	if len(errs) > 0 {
		return errs[0]
	}
	fmt.Fprintln(out, "Ingest watch stopped")
	return nil
}

func printSchedules(cmd *cobra.Command, next map[string]time.Time) {
	names := make([]string, 0, len(next))
	for name := range next {
		names = append(names, name)
	}
	sort.Strings(names)
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SCHEDULE\tNEXT RUN")
	for _, name := range names {
		fmt.Fprintf(w, "%s\t%s\n", name, formatTime(next[name]))
	}
	w.Flush()
}

func newIngestHistoryCmd() *cobra.Command {
	var (
		configPath string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show what this machine has ingested",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(context.Background(), configPath, appOpts{store: true})
			if err != nil {
				return err
			}
			recs, err := db.ListIngests(a.db, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(recs) == 0 {
				fmt.Fprintln(out, "Nothing ingested yet.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "WHEN\tKIND\tORIGIN\tDOCUMENT\tCHUNKS")
			for _, r := range recs {
				origin := r.Origin
				if r.Kind != ingest.KindURL {
					origin = filepath.Base(origin)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", formatTime(r.CreatedAt), r.Kind, truncate(origin, 50), orDash(r.SourceDocumentID), r.ChunksCreated)
			}
			w.Flush()
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to OPAL config file")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of records")
	return cmd
}
