package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"gallerymind/internal/logging"
	"gallerymind/internal/model"
	"gallerymind/internal/poller"
)

func newWatchCmd() *cobra.Command {
	var server string
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch <record-id>...",
		Short: "Poll a running API and print status changes until every record settles",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), server, interval, args)
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://localhost:8080", "Base URL of the gallerymind API")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Poll interval")
	return cmd
}

func runWatch(ctx context.Context, server string, interval time.Duration, ids []string) error {
	// Status lines go to stdout; keep the logger quiet unless something breaks.
	log := logging.Init("warn")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var p *poller.Poller
	onUpdate := func(rec *model.AnalysisRecord) {
		if !rec.Status.Terminal() {
			fmt.Printf("%s  %s\n", rec.ID, rec.Status)
			return
		}
		fmt.Printf("%s  %s\n", rec.ID, rec.Status)
		if rec.Error != "" {
			fmt.Printf("    error: %s\n", rec.Error)
		}
		fmt.Printf("    %q\n    tags=%v colors=%v\n", rec.Description, rec.Tags, rec.Colors)
		for _, r := range p.Snapshot() {
			if !r.Status.Terminal() {
				return
			}
		}
		cancel()
	}
	p = poller.New(poller.NewAPIReader(server), interval, onUpdate, log)
	for _, id := range ids {
		p.Track(id)
	}
	p.Run(ctx)
	return nil
}
