// Package qba implements the Quantum-Based Allocator: a 64-bit, lock-free,
// process-and-thread-safe general purpose allocator. It services requests
// from 8 bytes up to 256 TiB in amortized constant time, with constant-time
// queries for allocation size and constant-time recovery of an
// allocation's base address from any interior pointer.
//
// Allocator metadata lives entirely off to the side of user memory, which
// is what lets a single Director be shared across processes over a named
// shared-memory mapping (see Config.LinkName) and is why none of the
// exported operations ever read or interpret the bytes a caller stores in
// an allocated block.
//
// A size is classified into an order, roughly ceil(log2(size)), clamped to
// a minimum of 3 (8 bytes). The Director's roster maps each order to the
// component currently responsible for serving it: a null sink for orders
// below the minimum and above the maximum, a Partition or the owning
// QuantumAllocator for small/medium/large orders, and the SlabAllocator
// beyond the largest quantum size.
package qba
