// recordindex: record scans over secondary indexes
// Serves the RecordIndex gRPC service and runs scans against a local store
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
