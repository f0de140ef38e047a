package tinymvcc

/*
TinyMVCC is the in-memory, multi-version transactional storage core of a relational database, intended for teaching and
experimentation. It provides snapshot isolation over tables of fixed-width tuples: readers never block and are never
blocked, and concurrent writers to the same tuple are arbitrated by a single atomic swap, the loser aborting.

Tuples are updated in place. Every write first pushes the values it overwrites onto the tuple's version chain as an undo
record, so that a transaction can reconstruct the version its snapshot is supposed to see by walking the chain. Undo
records live in fixed-size segments drawn from a bounded pool; a background garbage collector cuts records out of the
chains once no running transaction can need them and, one pass later, hands their segments back to the pool.

There is no durability: nothing is logged or written to disk.

The `tinymvcc` module is organized into the following packages:

* `kv/transaction/timestamp`: the logical clock and the set of running transactions, whose oldest start timestamp is the
  reclamation watermark.
* `kv/storage/undo`: undo records and the segment pool they are allocated from.
* `kv/transaction`: transaction contexts and the manager that begins, commits and aborts them.
* `kv/storage/table`: the version store.
* `kv/storage/gc`: the garbage collector.
* `kv/catalog`: the system tables.
* `kv/engine`: wiring of all of the above from one configuration.
* `cmd/mvcc-bench`: a workload driver reporting throughput, abort rate and latency.
*/
