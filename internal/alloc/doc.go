// Package alloc provides file-space management for header chunks.
//
// Chunks must be placed at non-overlapping file offsets. The [Allocator]
// hands out offsets append-first, reusing freed blocks best-fit when one is
// large enough, and can enforce a capacity limit so exhaustion is an error
// instead of unbounded growth.
package alloc
