// Package replication drains the write-ahead sync queue against the remote
// service and reconciles conflicts.
//
// The Worker is the only background execution context in the engine. It is
// single-flight (a trigger during a drain never starts a second one),
// interruptible between operations, and resumable from the queue's persisted
// state after a restart. Failure classification follows a fixed taxonomy:
// transport failures retry automatically within an attempt budget, remote
// validation rejections are permanent, credential failures defer silently,
// and state divergence routes to the Reconciler.
package replication
