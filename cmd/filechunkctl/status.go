package main

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/filechunkpro/filechunk-pro/adapter"
	"github.com/filechunkpro/filechunk-pro/engine"
)

var statusCmd = &cobra.Command{
	Use:   "status <file>",
	Short: "Report the persisted upload session for a file, if any",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
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
	if closer, ok := handle.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	session, err := app.Engine.SessionFor(ctx, handle)
	if err != nil {
		return err
	}

	return printOutput(cmd.OutOrStdout(), app.Format, session, func() string {
		if session == nil {
			return fmt.Sprintf("no upload session for %s", path)
		}
		uploaded := 0
		for _, c := range session.Chunks {
			if c.Status == engine.EChunkStatus.Uploaded() {
				uploaded++
			}
		}
		return fmt.Sprintf("%s: %s (%.1f%%, %d/%d chunks uploaded)",
			session.FileName, session.Status, session.PercentComplete(),
			uploaded, len(session.Chunks))
	})
}
