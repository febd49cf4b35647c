// Command qrscan runs the PDF side of the pipeline offline: QR decoding,
// structural inspection and page rendering.
package main

import (
	"fmt"
	"os"

	"github.com/shehryarbajwa/certfetch/internal/pdfdoc"
)

func main() {
	if err := newRootCmd(pdfdoc.NewFitzEngine()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
