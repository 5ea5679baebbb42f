// Package cache provides the metadata cache header chunks are read from
// and written back through.
//
// The [Memory] cache sits over a [Store] (an in-memory map or a file).
// Clean images are kept in an LRU so repeated protects avoid store reads;
// dirty images accumulate until [Memory.FlushAll] writes them out in
// flush-dependency order: an entry never reaches the store before the
// entries that depend on it.
package cache
