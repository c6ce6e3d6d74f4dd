package main

import (
	"fmt"
	"io"
	"path"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/galah-group/galah-installer/internal/artifact"
	"github.com/galah-group/galah-installer/internal/service"
)

func newFetchCmd(opts *rootOptions) *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download and verify every artifact the plan needs into the cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			inst, err := loadInstaller(cmd.Context(), opts)
			if err != nil {
				return err
			}

			fetchCfg := artifact.Config{
				Server:   inst.cfg.Server,
				Key:      inst.key,
				Timeout:  inst.cfg.Timeout,
				MaxSize:  inst.cfg.MaxArtifactSize,
				CacheDir: inst.cfg.CacheDir,
				Workers:  inst.cfg.Workers,
				Logger:   opts.logger,
			}
			var bar *progressbar.ProgressBar
			if !quiet {
				bar = newDownloadBar(cmd.ErrOrStderr())
				fetchCfg.Progress = &barProgress{bar: bar}
			}

			svc := service.NewFetchService(inst.plans, fetchCfg, inst.cfg.StateDir, service.RealClock{}, opts.logger)
			res, err := svc.Fetch(cmd.Context(), inst.cfg.Packages)
			if bar != nil {
				_ = bar.Finish()
				_, _ = fmt.Fprintln(cmd.ErrOrStderr())
			}
			if err != nil {
				if res != nil && res.Journal != nil {
					opts.logger.Warn("fetch incomplete", "journal", res.Journal.FileName())
				}
				return err
			}

			return printFetched(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not show download progress")
	return cmd
}

func newDownloadBar(w io.Writer) *progressbar.ProgressBar {
	return progressbar.NewOptions64(-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("downloading"),
		progressbar.OptionShowBytes(true),
		progressbar.OptionShowDescriptionAtLineEnd(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
	)
}

// barProgress feeds transfer progress into a single byte-counting bar.
// Downloads from concurrent workers all land on the same bar.
type barProgress struct {
	bar *progressbar.ProgressBar
}

func (p *barProgress) Start(name string, size int64) {
	p.bar.Describe("downloading " + path.Base(name))
}

func (p *barProgress) Advance(n int) {
	_ = p.bar.Add(n)
}

func (p *barProgress) Done() {}

func printFetched(w io.Writer, res *service.FetchResult) error {
	if len(res.Fetched) == 0 {
		_, err := fmt.Fprintln(w, "Nothing to fetch.")
		return err
	}
	for _, f := range res.Fetched {
		status := "fetched"
		if f.Cached {
			status = "cached "
		}
		if _, err := fmt.Fprintf(w, "%s %s  sha512:%.16s  %s\n", status, f.Action, f.Digest, f.FilePath); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "journal: %s\n", res.Journal.FileName())
	return err
}
