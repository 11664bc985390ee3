// Package replicastate publishes a replica's lifecycle state to a shared
// statestore.Store and reads the fleet's state back.
//
// Each replica writes one JSON Entry under "<prefix><replica>". The health
// probe reads the local entry; operators and deployment tooling list all
// entries and Summarize them, for example to wait until every replica of a
// deployment has drained to Stopped.
package replicastate
