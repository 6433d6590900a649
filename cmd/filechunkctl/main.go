// Command filechunkctl is the reference host binding for FileChunk Pro: it
// wires the platform adapter, hash pool, persistent store, compression,
// CDN connector and upload engine together through the kernel and exposes
// them as a small CLI, the way azcopy's main.go hands off to cmd.Execute.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "filechunkctl:", err)
		os.Exit(1)
	}
}
