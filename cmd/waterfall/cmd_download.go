package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cascadefs/waterfall/internal/chunked"
	"github.com/cascadefs/waterfall/internal/download"
	"github.com/cascadefs/waterfall/internal/orchestrator"
	"github.com/cascadefs/waterfall/internal/progress"
	"github.com/cascadefs/waterfall/internal/transport"
	"github.com/cascadefs/waterfall/internal/waterfall"
)

var downloadMaxElapsed time.Duration

var cmdDownload = &cobra.Command{
	Use:   "download [manifest] [destination]",
	Short: "reassemble a waterfall manifest into a local file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDownload(globalOptions, args[0], args[1])
	},
}

func init() {
	cmdDownload.Flags().DurationVar(&downloadMaxElapsed, "max-elapsed", 2*time.Minute, "give up retrying a ranged fetch after this long")
	cmdRoot.AddCommand(cmdDownload)
}

func runDownload(opts GlobalOptions, manifestPath, destPath string) error {
	log := newLogger(opts)

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
	opener, err := download.NewContainerOpener(client, password, downloadMaxElapsed, signal.IsRunning)
	if err != nil {
		return err
	}

	jobID := uuid.NewString()
	registry, err := newFileJobRegistry(jobDir())
	if err != nil {
		return err
	}
	orch := orchestrator.New(registry, 16)
	if err := orch.Register(context.Background(), orchestrator.Job{
		ID:       jobID,
		Name:     manifest.Filename,
		FilePath: destPath,
		Password: password,
		Kind:     orchestrator.KindDownload,
	}); err != nil {
		return err
	}

	stopPrinter := printProgress(opts, signal, manifest.Size)
	defer stopPrinter()

	var written int64
	if manifest.Tree != nil {
		written, err = downloadTree(opener, manifest, destPath, signal)
	} else {
		written, err = downloadFile(opener, manifest, destPath, signal)
	}
	if err != nil {
		return err
	}

	if err := orch.Complete(context.Background(), jobID); err != nil {
		return err
	}

	log.WithField("job_id", jobID).WithField("bytes", written).Info("download complete")
	fmt.Fprintf(opts.stdout, "wrote %s (%s)\n", destPath, humanize.IBytes(uint64(written)))
	return nil
}

// downloadFile reassembles a single-file manifest into destPath.
func downloadFile(opener *download.ContainerOpener, manifest *waterfall.Manifest, destPath string, signal *progress.Signal) (int64, error) {
	out, err := os.Create(destPath)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	r := opener.OpenManifestRange(manifest.Containers, chunked.ByteRange{Lo: 0, Hi: manifest.Size})
	written, err := io.Copy(out, r)
	if err != nil {
		return 0, err
	}
	signal.Report(chunked.ByteRange{Lo: 0, Hi: written})
	return written, nil
}

// downloadTree reassembles a directory-tree manifest beneath destRoot,
// recreating every node's relative path and, for files, slicing its
// portion out of the shared concatenated plaintext stream.
func downloadTree(opener *download.ContainerOpener, manifest *waterfall.Manifest, destRoot string, signal *progress.Signal) (int64, error) {
	if err := os.MkdirAll(destRoot, 0o755); err != nil {
		return 0, err
	}

	var total int64
	for _, node := range manifest.Tree {
		target := filepath.Join(destRoot, filepath.FromSlash(node.RelPath))
		if node.IsDir {
			if err := os.MkdirAll(target, os.FileMode(node.Mode)|0o700); err != nil {
				return 0, err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return 0, err
		}

		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(node.Mode)|0o600)
		if err != nil {
			return 0, err
		}

		r := opener.OpenManifestRange(manifest.Containers, node.Range)
		n, err := io.Copy(out, r)
		out.Close()
		if err != nil {
			return 0, err
		}

		signal.Report(node.Range)
		total += n
	}

	return total, nil
}
