// Package storage provides the concrete randomaccess backends.
//
// MemoryBackend keeps the bytes in a slice, optionally snapshotted to
// SQLite. LocalBackend uses a single file on disk. BlobBackend splits the
// bytes into fixed-size blocks over any BlobStore: S3, GCS, Azure Blob,
// DynamoDB, SQLite, Badger, Pebble or an in-memory map.
//
// Every backend is a randomaccess.Handler and is normally used through the
// lazy-open adapter returned by NewMemory, NewLocal or NewBlob.
package storage
