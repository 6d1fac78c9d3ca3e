package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/crossvm/bridge/manifest"
)

func newWatchCmd() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch <artifact.wasm>",
		Short: "Keep the artifact loaded and hot-reload it whenever the file changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			artifact := args[0]

			r, err := newRuntime(ctx, artifact)
			if err != nil {
				return err
			}
			defer r.Close(ctx)

			fmt.Printf("Loaded %s (generation %d). Watching for changes...\n",
				artifact, r.Current().Generation())

			stamp := func(path string) (time.Time, error) {
				fi, err := os.Stat(path)
				if err != nil {
					return time.Time{}, err
				}
				return fi.ModTime(), nil
			}

			last, err := stamp(artifact)
			if err != nil {
				return err
			}
			lastManifest, _ := stamp(manifest.SidecarPath(artifact))

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			tick := time.NewTicker(interval)
			defer tick.Stop()

			for {
				select {
				case <-stop:
					return nil
				case <-tick.C:
					cur, err := stamp(artifact)
					if err != nil {
						continue // mid-rebuild, try again next tick
					}
					curManifest, _ := stamp(manifest.SidecarPath(artifact))
					if cur.Equal(last) && curManifest.Equal(lastManifest) {
						continue
					}
					last, lastManifest = cur, curManifest

					if err := r.Reload(ctx); err != nil {
						fmt.Printf("Reload rejected, previous generation stays active: %v\n", err)
						continue
					}
					reclaimed, _ := r.Reclaim(ctx)
					fmt.Printf("Reloaded (generation %d, %d old generation(s) freed)\n",
						r.Current().Generation(), reclaimed)
				}
			}
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 500*time.Millisecond,
		"how often to poll the artifact for changes")
	return cmd
}
