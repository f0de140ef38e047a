// Copyright 2019 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package transaction

// The transaction package implements the begin/commit/abort protocol of the storage core. A transaction is a Txn
// handed out by Manager.Begin; every read and write a table performs on behalf of a transaction consults the Txn's
// start timestamp and appends to its private undo log.
//
// ## Timestamps
//
// Start timestamps and commit timestamps are checked out of one timestamp.Manager, so they are totally ordered. Until a
// transaction commits, the records it wrote carry its *transaction identifier*: the start timestamp with the top bit
// set. Readers treat such a record as "not committed" unless the identifier is their own. Committing stamps the commit
// timestamp into every record of the transaction; that stamping is the publish step.
//
// ## Commit latch
//
// Committers hold the commit latch in shared mode while they check out the commit timestamp and stamp their records.
// Begin holds it exclusively while checking out a start timestamp. Therefore a transaction either starts before a
// commit timestamp exists, in which case the commit timestamp is larger than its start timestamp and none of the
// commit's writes are visible to it, or after the stamping has finished, in which case all of them are.
//
// ## State machine
//
// Active -> Committing -> Committed, or Active -> Aborting -> Aborted. A terminated transaction is handed to the
// garbage collector, which is then the only party that touches it: first to unlink its records from the version
// chains, one collection pass later to release its undo segments.
//
// Write conflicts and pool exhaustion are reported to the caller, who must then Abort. Nothing is retried here.
