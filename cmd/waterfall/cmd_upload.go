package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cascadefs/waterfall/internal/container"
	"github.com/cascadefs/waterfall/internal/orchestrator"
	"github.com/cascadefs/waterfall/internal/progress"
	"github.com/cascadefs/waterfall/internal/transport"
	"github.com/cascadefs/waterfall/internal/uploadpool"
	"github.com/cascadefs/waterfall/internal/upload"
	"github.com/cascadefs/waterfall/internal/waterfall"
)

var cmdUpload = &cobra.Command{
	Use:   "upload [file or directory]",
	Short: "split, encrypt, and upload a file or directory as a waterfall",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runUpload(globalOptions, args[0])
	},
}

func init() {
	cmdRoot.AddCommand(cmdUpload)
}

func runUpload(opts GlobalOptions, path string) error {
	log := newLogger(opts)

	if err := requireToken(opts); err != nil {
		return err
	}
	password, err := resolvePassword(opts)
	if err != nil {
		return err
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	params := container.Params{ChunkSize: opts.ChunkSize, ContainerCap: opts.ContainerCap}

	client := transport.New(transport.Options{
		BaseURL:   "https://chat.example.invalid/api",
		Token:     opts.Token,
		ChannelID: opts.ChannelID,
	})

	worker := &uploadpool.Worker{
		Cooldown:          ratelimitWorkCooldown(opts.Workers),
		MaxAttachmentSize: opts.ContainerCap,
		Upload:            client.Upload(attachmentFilename(path)),
	}
	pool := uploadpool.New([]*uploadpool.Worker{worker})

	signal := progress.New()
	jobID := uuid.NewString()

	registry, err := newFileJobRegistry(jobDir())
	if err != nil {
		return err
	}
	orch := orchestrator.New(registry, 16)
	if err := orch.Register(context.Background(), orchestrator.Job{
		ID:          jobID,
		Name:        info.Name(),
		FilePath:    path,
		Password:    password,
		Kind:        orchestrator.KindUpload,
		ThreadCount: opts.Workers,
	}); err != nil {
		return err
	}

	stopPrinter := printProgress(opts, signal, info.Size())
	defer stopPrinter()

	var manifest *waterfall.Manifest

	if info.IsDir() {
		nodes, size, src, err := openTreeSource(path, true)
		if err != nil {
			return err
		}
		defer src.Close()

		uploader := upload.New(src, size, params, password, opts.Workers, pool, signal)
		containers, err := uploader.Run()
		if err != nil {
			return err
		}

		manifest = &waterfall.Manifest{Filename: info.Name(), Size: size, Password: password, Containers: containers, Tree: nodes}
	} else {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		src := &fileSource{f: f}
		uploader := upload.New(src, info.Size(), params, password, opts.Workers, pool, signal)
		containers, err := uploader.Run()
		if err != nil {
			return err
		}

		manifest = &waterfall.Manifest{Filename: info.Name(), Size: info.Size(), Password: password, Containers: containers}
	}

	if err := manifest.Validate(); err != nil {
		return err
	}

	data, err := manifest.Encode()
	if err != nil {
		return err
	}
	manifestPath := path + ".waterfall"
	if err := os.WriteFile(manifestPath, data, 0o600); err != nil {
		return err
	}

	if err := orch.Complete(context.Background(), jobID); err != nil {
		return err
	}

	log.WithField("job_id", jobID).WithField("manifest", manifestPath).Info("upload complete")
	fmt.Fprintf(opts.stdout, "wrote %s (%s)\n", manifestPath, humanize.IBytes(uint64(manifest.Size)))
	return nil
}

// attachmentFilename returns the name a container upload should be
// announced under: the source path plus a timestamp and a ".part" suffix, so retried
// uploads of the same source file never collide on the chat service's
// filename-keyed reserve call.
func attachmentFilename(path string) string {
	return fmt.Sprintf("%s.%d.part", path, time.Now().UnixNano())
}
