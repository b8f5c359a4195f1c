// Command equizctl runs the administrative and maintenance operations of the
// quiz backend against the configured store.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	cc := newCommandContext()
	err := newRootCommand(cc).Execute()
	cc.close()

	if err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
