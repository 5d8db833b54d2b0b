package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/gosuri/uilive"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-ascendara-launcher/internal/reconciler"
	"go-ascendara-launcher/internal/supervisor"
)

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolP("watch", "w", false, "Keep polling and redraw in place until interrupted")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of every game in the library",
	Long: `Classifies every installed game from its status sidecar file and lists
custom games alongside. With --watch the view refreshes on the poll
interval until interrupted.`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	watch, _ := cmd.Flags().GetBool("watch")

	store := newStore()
	sup := supervisor.New()
	svc := reconciler.NewService(store, sup, time.Duration(globalConfig.PollIntervalMs)*time.Millisecond)

	if !watch {
		snap, err := svc.Snapshot()
		if err != nil {
			log.WithError(err).Error("Failed to read library state")
			return err
		}
		renderSnapshot(os.Stdout, snap)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	writer := uilive.New()
	writer.Start()
	defer writer.Stop()

	svc.Watch(ctx, func(snap reconciler.Snapshot) {
		renderSnapshot(writer, snap)
		writer.Flush()
	})
	return nil
}

func renderSnapshot(w io.Writer, snap reconciler.Snapshot) {
	if len(snap.Installed) == 0 && len(snap.Custom) == 0 {
		fmt.Fprintln(w, "Library is empty")
		return
	}
	for _, gs := range snap.Installed {
		line := fmt.Sprintf("%-30s %-12s", gs.Record.Game, gs.State)
		switch gs.State {
		case reconciler.StateDownloading, reconciler.StateExtracting, reconciler.StateUpdating:
			line += " " + formatProgress(gs.Record)
		case reconciler.StateErrored:
			if gs.Record.DownloadingData != nil {
				line += " " + gs.Record.DownloadingData.Message
			}
		}
		if gs.Record.IsRunning {
			line += " [running]"
		}
		fmt.Fprintln(w, line)
	}
	for _, g := range snap.Custom {
		line := fmt.Sprintf("%-30s %-12s", g.Game, "custom")
		if g.IsRunning {
			line += " [running]"
		}
		fmt.Fprintln(w, line)
	}
}
