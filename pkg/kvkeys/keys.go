// Package kvkeys defines the item-name schema used against a persist.Store:
// hidden per-root state under "<root>/.afi/", artwork payloads and their
// index under "<root>/images/". Item names are root-relative forward-slash
// paths so a FilePersist rooted at the AFI root reproduces that layout
// literally; the Redis and Postgres backends treat them as opaque field
// names.
package kvkeys

// Per-AFI item names, stored under that AFI's own persist.Store scope.
const (
	FileIndex        = ".afi/fileIndex.txt"
	ImageIndex       = ".afi/imageIndex.txt"
	MetadataCache    = ".afi/metadataCache"
	MetadataOverride = ".afi/metadataOverride"
	SongKeys         = ".afi/songKeys"
	BlobIndex        = "images/index.txt"
)

// Aggregate-database item names.
const (
	Database       = "audio-database"
	IgnoreRules    = "ignore-rules"
	AlbumPictures  = "album-pictures"
	ArtistPictures = "artist-pictures"
)

// AFIHiddenDir is the hidden per-root state directory name.
const AFIHiddenDir = ".afi"

// AFIImagesDir is the per-root artwork blob-store directory.
const AFIImagesDir = "images"
