// Package mangashelf provides the storage model and shared contracts of the
// manga content backend.
//
// Every persisted entity (manga, chapters, comments, users, settings, upload
// sessions and their blobs) is a JSON document kept in an ObjectStore and
// addressed by its UUID. Page images live in a BlobStore under keys derived
// from the owning manga, chapter and page number (see PageKey and BlobKey).
//
// Typed access to a document collection goes through Collection, which also
// implements the fetch-all and paginate helpers used by every listing.
// Implementations of ObjectStore (memory, Postgres, SQLite) and BlobStore
// (memory, filesystem, S3) are provided under the repo and storage
// subpackages. Authorization is delegated to the acl subpackage: each entity
// exposes its access control list through ResolveACL.
package mangashelf
