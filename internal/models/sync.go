// Package models defines the domain types for Laguz.
package models

import "time"

// SyncSnapshot records the last successful synchronization of one
// document. It is the baseline for three-way conflict comparison and is
// owned exclusively by the state store.
type SyncSnapshot struct {
	LastSyncedAt    time.Time `json:"last_synced_at"`
	LocalModifiedAt time.Time `json:"local_modified_at"`
	RemoteUpdatedAt time.Time `json:"remote_updated_at"`
	RemoteID        string    `json:"remote_id,omitempty"`
}

// ChangeKind classifies a vault change event.
type ChangeKind string

// Change kinds emitted by the watcher and accepted by the queue.
const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeDeleted ChangeKind = "deleted"
)

// ChangeEvent is one observed mutation of a vault document.
type ChangeEvent struct {
	Path string     `json:"path"`
	Kind ChangeKind `json:"kind"`
	At   time.Time  `json:"at"`
}

// DocumentMeta is a lightweight representation returned by vault list
// operations.
type DocumentMeta struct {
	Path       string    `json:"path"`
	Checksum   string    `json:"checksum"`
	ModifiedAt time.Time `json:"modified_at"`
}

// FolderMapping pairs a vault folder with the remote record type used
// for documents created from that folder.
type FolderMapping struct {
	Folder string `yaml:"folder" json:"folder"`
	TypeID string `yaml:"type_id" json:"type_id"`
}

// ContainerConfig describes how one vault maps onto one remote
// container: which record type each folder produces and how declared
// tags translate to remote tag identifiers.
type ContainerConfig struct {
	ContainerID   string            `yaml:"container_id" json:"container_id"`
	DefaultTypeID string            `yaml:"default_type_id" json:"default_type_id"`
	Folders       []FolderMapping   `yaml:"folders" json:"folders,omitempty"`
	TagIDs        map[string]string `yaml:"tags" json:"tags,omitempty"`
}
