package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/cascadefs/waterfall/internal/container"
	"github.com/cascadefs/waterfall/internal/orchestrator"
	"github.com/cascadefs/waterfall/internal/progress"
	"github.com/cascadefs/waterfall/internal/transport"
	"github.com/cascadefs/waterfall/internal/uploadpool"
	"github.com/cascadefs/waterfall/internal/upload"
	"github.com/cascadefs/waterfall/internal/waterfall"
)

var cmdResume = &cobra.Command{
	Use:   "resume [resume-blob] [job-id]",
	Short: "re-enter an interrupted upload from its resume blob",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runResume(globalOptions, args[0], args[1])
	},
}

func init() {
	cmdRoot.AddCommand(cmdResume)
}

func runResume(opts GlobalOptions, resumeBlobPath, jobID string) error {
	log := newLogger(opts)

	if err := requireToken(opts); err != nil {
		return err
	}

	data, err := os.ReadFile(resumeBlobPath)
	if err != nil {
		return err
	}
	blob, err := waterfall.DecodeResumeBlob(data)
	if err != nil {
		return err
	}

	f, err := os.Open(blob.FilePath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	liveHash, err := waterfall.HashFile(f)
	if err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	if err := blob.ValidateAgainst(info.Size(), liveHash); err != nil {
		return err
	}

	password, err := resolvePassword(opts)
	if err != nil {
		return err
	}

	params := container.Params{ChunkSize: blob.ChunkSize, ContainerCap: blob.ContainerSize}

	client := transport.New(transport.Options{
		BaseURL:   "https://chat.example.invalid/api",
		Token:     opts.Token,
		ChannelID: opts.ChannelID,
	})
	worker := &uploadpool.Worker{
		Cooldown:          ratelimitWorkCooldown(blob.ThreadCount),
		MaxAttachmentSize: blob.ContainerSize,
		Upload:            client.Upload(attachmentFilename(blob.FilePath)),
	}
	pool := uploadpool.New([]*uploadpool.Worker{worker})

	signal := progress.New()
	for _, c := range blob.ContainersCompleted {
		signal.Report(c.Range)
	}

	registry, err := newFileJobRegistry(jobDir())
	if err != nil {
		return err
	}
	orch := orchestrator.New(registry, 16)
	if _, ok, err := orch.Load(context.Background(), jobID); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("waterfall: unknown job %s", jobID)
	}
	if err := orch.Resume(context.Background(), jobID); err != nil {
		return err
	}

	stopPrinter := printProgress(opts, signal, blob.FileSize)
	defer stopPrinter()

	src := &fileSource{f: f}
	uploader := upload.New(src, blob.FileSize, params, password, blob.ThreadCount, pool, signal)
	uploader.Seed(blob.RemainingRanges, blob.ContainersCompleted)

	containers, err := uploader.Run()
	if err != nil {
		return err
	}

	manifest := &waterfall.Manifest{
		Filename:   info.Name(),
		Size:       blob.FileSize,
		Password:   password,
		Containers: containers,
	}
	if err := manifest.Validate(); err != nil {
		return err
	}

	encoded, err := manifest.Encode()
	if err != nil {
		return err
	}
	manifestPath := blob.FilePath + ".waterfall"
	if err := os.WriteFile(manifestPath, encoded, 0o600); err != nil {
		return err
	}

	if err := orch.Complete(context.Background(), jobID); err != nil {
		return err
	}

	log.WithField("job_id", jobID).WithField("manifest", manifestPath).Info("resumed upload complete")
	fmt.Fprintf(opts.stdout, "wrote %s (%s)\n", manifestPath, humanize.IBytes(uint64(manifest.Size)))
	return nil
}
