package heap

import (
	"fmt"
	"os"
)

// fatal reports an unrecoverable allocator invariant violation or OS
// reservation failure and aborts the process. The allocator's contract is
// total on valid inputs: it never returns an error code for corruption it
// cannot safely recover from, because once the heap's own bookkeeping is
// suspect there is no way to guarantee any other live allocation is still
// intact.
func fatal(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "gomalloc: fatal: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "gomalloc: fatal: %s\n", msg)
	}
	os.Exit(2)
}
