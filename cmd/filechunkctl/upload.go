package main

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/filechunkpro/filechunk-pro/adapter"
	"github.com/filechunkpro/filechunk-pro/engine"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a file through the chunked upload engine",
	Args:  cobra.ExactArgs(1),
	RunE:  runUpload,
}

func runUpload(cmd *cobra.Command, args []string) error {
	path := args[0]
	ctx := context.Background()

	app, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer app.Kernel.Stop(ctx)

	mimeType := mime.TypeByExtension(filepath.Ext(path))
	handle, err := adapter.NewLocalFileHandle(path, mimeType)
	if err != nil {
		return err
	}

	meta := engine.FileMeta{Name: handle.Name(), MimeType: mimeType, Size: handle.Size()}

	var lastPercent float64
	opts := engine.UploadOptions{
		OnProgress: func(uploaded int64, percent float64) {
			if percent-lastPercent < 1 && percent < 100 {
				return
			}
			lastPercent = percent
			fmt.Fprintf(cmd.OutOrStdout(), "uploaded %s (%.1f%%)\n", humanize.Bytes(uint64(uploaded)), percent)
		},
	}

	result, err := app.Engine.Upload(ctx, handle, meta, opts)
	if closer, ok := handle.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	if err != nil {
		return err
	}

	return printOutput(cmd.OutOrStdout(), app.Format, result, func() string {
		if result.Success {
			return fmt.Sprintf("upload complete: %s", result.URL)
		}
		return fmt.Sprintf("upload failed: %v", result.Err)
	})
}
