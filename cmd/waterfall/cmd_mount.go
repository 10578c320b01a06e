//go:build darwin || freebsd || linux

package main

import (
	"fmt"
	"os"
	"time"

	systemFuse "github.com/anacrolix/fuse"
	"github.com/anacrolix/fuse/fs"
	"github.com/spf13/cobra"

	"github.com/cascadefs/waterfall/internal/download"
	"github.com/cascadefs/waterfall/internal/errors"
	"github.com/cascadefs/waterfall/internal/progress"
	"github.com/cascadefs/waterfall/internal/transport"
	"github.com/cascadefs/waterfall/internal/waterfall"
	"github.com/cascadefs/waterfall/internal/waterfallfs"
)

var mountAllowOther bool

var cmdMount = &cobra.Command{
	Use:   "mount [manifest] [mountpoint]",
	Short: "mount a waterfall manifest read-only via FUSE",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMount(globalOptions, args[0], args[1])
	},
}

func init() {
	cmdMount.Flags().BoolVar(&mountAllowOther, "allow-other", false, "allow other users to access the mounted files")
	cmdRoot.AddCommand(cmdMount)
}

func runMount(opts GlobalOptions, manifestPath, mountpoint string) error {
	if _, err := os.Stat(mountpoint); errors.Is(err, os.ErrNotExist) {
		return errors.Wrap(err, "mountpoint does not exist")
	}

	if err := requireToken(opts); err != nil {
		return err
	}

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return err
	}
	manifest, err := waterfall.Decode(data)
	if err != nil {
		return err
	}
	if err := manifest.Validate(); err != nil {
		return err
	}

	password := manifest.Password
	if password == "" {
		password, err = resolvePassword(opts)
		if err != nil {
			return err
		}
	}

	client := transport.New(transport.Options{
		BaseURL:   "https://chat.example.invalid/api",
		Token:     opts.Token,
		ChannelID: opts.ChannelID,
	})

	signal := progress.New()
	opener, err := download.NewContainerOpener(client, password, 2*time.Minute, signal.IsRunning)
	if err != nil {
		return err
	}

	mountOptions := []systemFuse.MountOption{
		systemFuse.ReadOnly(),
		systemFuse.FSName(fmt.Sprintf("waterfall:%s", manifest.Filename)),
	}
	if mountAllowOther {
		mountOptions = append(mountOptions, systemFuse.AllowOther())
	}

	c, err := systemFuse.Mount(mountpoint, mountOptions...)
	if err != nil {
		return err
	}
	defer c.Close()

	fmt.Fprintf(opts.stdout, "serving %s at %s\n", manifestPath, mountpoint)
	fmt.Fprintln(opts.stdout, "unmount with Ctrl-C or `umount` in another terminal")

	return fs.Serve(c, waterfallfs.New(manifest, opener))
}
