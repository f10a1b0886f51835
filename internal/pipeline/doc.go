// Package pipeline defines the core types and collaborator interfaces shared by
// the fetch, label, balance, and export stages. Concrete implementations live
// in sibling packages (datastore, storage, publisher, progress) and are wired
// together by the runner.
package pipeline
