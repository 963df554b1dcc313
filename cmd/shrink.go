package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"tinypng/internal/ingest"
	"tinypng/internal/logging"
	"tinypng/internal/tinify"
	"tinypng/internal/tui"
	"tinypng/internal/workflow"
	"tinypng/pkg/imgutil"
)

var shrinkPlain bool

var shrinkCmd = &cobra.Command{
	Use:   "shrink [flags] <path>...",
	Short: "Compress images in place through the TinyPNG API",
	Long: "Compress images in place through the TinyPNG API.\n\n" +
		"Directories are searched recursively for PNG, JPEG and WebP files. Each file is\n" +
		"replaced by its compressed version once the download completes.",
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, _, err := loadConfig()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		interactive := !shrinkPlain && isTerminal(out)

		logger, closer, err := newLogger(cfg, interactive)
		if err != nil {
			return err
		}
		defer closer.Close()

		classifier := imgutil.Classifier{}
		files, err := ingest.Collect(classifier, args...)
		if err != nil {
			return err
		}
		if len(files) == 0 {
			fmt.Fprintln(out, "No images found.")
			return nil
		}

		client, err := tinify.New(tinify.Config{
			Endpoint:        cfg.Endpoint,
			RequestTimeout:  cfg.RequestTimeoutDuration(),
			MaxConnsPerHost: cfg.MaxConcurrent(),
			Logger:          logger,
		})
		if err != nil {
			return err
		}

		engine := workflow.New(workflow.Options{
			Transport:   client,
			Credentials: cfg,
			Classifier:  classifier,
			Logger:      logger,
		})
		logger.Info("batch starting",
			logging.Int("files", len(files)),
			logging.Int("max_concurrent", engine.MaxConcurrent()),
		)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var items []workflow.WorkItem
		if interactive {
			items, err = runInteractive(ctx, engine, files, out)
		} else {
			items, err = runPlain(ctx, engine, files, out)
		}
		if err != nil {
			return err
		}

		fmt.Fprintln(out, renderResults(items))
		totals := tui.Summarize(items)
		fmt.Fprintln(out, tui.RenderSummary(totals.Rows()))
		logger.Info("batch finished",
			logging.Int("complete", totals.Complete),
			logging.Int("failed", totals.Failed),
			logging.Int64("bytes_saved", totals.Saved()),
		)

		switch {
		case totals.Pending > 0:
			return fmt.Errorf("interrupted with %d of %d images unfinished", totals.Pending, totals.Items)
		case totals.Failed > 0:
			return fmt.Errorf("%d of %d images failed", totals.Failed, totals.Items)
		}
		return nil
	},
}

func init() {
	shrinkCmd.Flags().BoolVar(&shrinkPlain, "plain", false, "print one line per status change instead of the live view")

	rootCmd.AddCommand(shrinkCmd)
}

// runInteractive drives the live view. Quitting the view interrupts the wait
// but not the uploads already in flight.
func runInteractive(ctx context.Context, engine *workflow.Engine, files []string, out io.Writer) ([]workflow.WorkItem, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	updates := make(chan workflow.WorkItem, 64)
	engine.OnStatusChanged(func(item workflow.WorkItem) { updates <- item })

	program := tea.NewProgram(tui.NewModel(updates, len(files)))
	uiDone := make(chan error, 1)
	var interrupted bool
	go func() {
		final, err := program.Run()
		if m, ok := final.(tui.Model); ok {
			interrupted = m.Interrupted()
		}
		cancel()
		// Keep the notifier unblocked until the channel is closed.
		for range updates {
		}
		uiDone <- err
	}()

	for _, path := range files {
		engine.Submit(path)
	}
	waitErr := engine.Wait(ctx)
	engine.Close()
	close(updates)
	uiErr := <-uiDone

	if uiErr != nil {
		return nil, fmt.Errorf("progress view: %w", uiErr)
	}
	if waitErr != nil && !errors.Is(waitErr, context.Canceled) {
		return nil, waitErr
	}
	items := engine.Items()
	if notice := interruptNotice(interrupted, items); notice != "" {
		fmt.Fprintln(out, notice)
	}
	return items, nil
}

// interruptNotice explains unfinished items after the user quit the live view.
func interruptNotice(interrupted bool, items []workflow.WorkItem) string {
	if !interrupted {
		return ""
	}
	if n := tui.Summarize(items).Pending; n > 0 {
		return fmt.Sprintf("Stopped by user; %d images were left unfinished.", n)
	}
	return ""
}

func runPlain(ctx context.Context, engine *workflow.Engine, files []string, out io.Writer) ([]workflow.WorkItem, error) {
	last := make(map[int]workflow.Status)
	engine.OnStatusChanged(func(item workflow.WorkItem) {
		status := item.Status()
		if prev, ok := last[item.ID]; ok && prev == status {
			return
		}
		last[item.ID] = status
		fmt.Fprintf(out, "[%d] %s: %s\n", item.ID, item.DisplayName, item.StatusLine())
	})

	for _, path := range files {
		engine.Submit(path)
	}
	waitErr := engine.Wait(ctx)
	engine.Close()
	if waitErr != nil && !errors.Is(waitErr, context.Canceled) {
		return nil, waitErr
	}
	return engine.Items(), nil
}

func renderResults(items []workflow.WorkItem) string {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		saved := ""
		if c, ok := item.State.(workflow.Complete); ok {
			saved = tui.FormatBytes(c.BytesBefore - c.BytesAfter)
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", item.ID),
			item.DisplayName,
			item.StatusLine(),
			saved,
		})
	}
	return renderTable(
		[]string{"#", "File", "Status", "Saved"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight},
	)
}
