package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"ytmusicdl/internal/extractor"
	"ytmusicdl/internal/job"
	"ytmusicdl/internal/removable"
)

var (
	downloadDir     string
	downloadQuality string
)

var downloadCmd = &cobra.Command{
	Use:   "download <url>",
	Short: "Download one video's audio in the foreground, Ctrl-C cancels",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		dir := downloadDir
		if dir == "" {
			dir = cfg.DownloadsDir
		}
		manager := job.NewManager(job.Options{
			DefaultDir:        dir,
			AllowedHosts:      cfg.AllowedHosts,
			MaxConcurrentJobs: 1,
			Runner:            extractor.NewCommandRunner(cfg.YTDLPPath, cfg.CancelGrace),
		})
		jobID, err := manager.Submit(job.Request{SourceURL: args[0], Quality: extractor.Quality(downloadQuality)})
		if err != nil {
			return err
		}
		events, err := manager.Observe(context.Background(), jobID)
		if err != nil {
			return err
		}

		sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		go func() {
			<-sigCtx.Done()
			if err := manager.Cancel(jobID); err == nil {
				log.Info().Str("job_id", jobID).Msg("cancelling download")
			}
		}()

		out := cmd.OutOrStdout()
		for ev := range events {
			switch {
			case ev.State == job.StateDownloading:
				fmt.Fprintf(out, "\r%5.1f%%  %-12s ETA %-8s", ev.Progress, ev.Speed, ev.ETA)
			case ev.Terminal():
				fmt.Fprintln(out)
			}
		}
		j, _ := manager.Get(jobID)
		if err := j.Err(); err != nil {
			return fmt.Errorf("download %s: %w", jobID, err)
		}
		fmt.Fprintf(out, "saved to %s\n", j.ResultPath)
		return nil
	},
}

var drivesCmd = &cobra.Command{
	Use:   "drives",
	Short: "List mounted removable drives",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		drives, err := removable.ListDrives(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tPATH\tCAPACITY\tAVAILABLE")
		for _, d := range drives {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", d.Name, d.Path, d.Capacity, d.Available)
		}
		return w.Flush()
	},
}

var copyCmd = &cobra.Command{
	Use:   "copy <file> <drive-dir>",
	Short: "Copy a downloaded file onto a removable drive",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := removable.CopyToRemovable(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "copied %d bytes (%s) to %s\n", res.Bytes, res.MIME, res.Path)
		return nil
	},
}

var infoCmd = &cobra.Command{
	Use:   "info <url>",
	Short: "Print title, duration and uploader of a video",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		url, err := extractor.ValidateURL(args[0], cfg.AllowedHosts)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), playlistTimeout)
		defer cancel()
		info, err := extractor.NewCommandRunner(cfg.YTDLPPath, cfg.CancelGrace).Probe(ctx, url)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "title:     %s\nduration:  %s\nuploader:  %s\nthumbnail: %s\n", info.Title, info.Duration, info.Uploader, info.Thumbnail)
		return nil
	},
}

func init() {
	downloadCmd.Flags().StringVarP(&downloadDir, "dir", "d", "", "directory to save into (default: downloads_dir)")
	downloadCmd.Flags().StringVarP(&downloadQuality, "quality", "q", "high", "high, medium or lossless")
	rootCmd.AddCommand(downloadCmd, drivesCmd, copyCmd, infoCmd)
}
