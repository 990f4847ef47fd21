// Package engine implements the asynchronous resource lifecycle core of Kiln.
//
// A Resource tracks the (action, status) pair of one remote entity. Invoking
// an action through Perform produces a Task; a TaskRunner drives the Task to
// completion by issuing exactly one mutating call against the backend and
// then polling the remote status until it reaches a terminal value, yielding
// cooperatively between polls so that many tasks can progress in the same
// process. The Scheduler fans tasks out across a bounded worker pool while
// keeping actions on any single resource strictly serialized. A Graph
// orders actions across related resources, dependency-first for creation
// and in reverse for teardown.
//
// Backend specifics live behind the RemoteClient interface; the engine only
// understands the generic "<ACTION>_<PHASE>" status convention and treats
// everything else as unknown.
package engine
