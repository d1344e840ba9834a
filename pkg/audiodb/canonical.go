package audiodb

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/nilsgravlund/afidb/pkg/model"
)

// joinArtistDisplay renders a list of display names comma-separated, with
// the final separator being " & " instead of ", ".
func joinArtistDisplay(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0]
	default:
		return strings.Join(names[:len(names)-1], ", ") + " & " + names[len(names)-1]
	}
}

func (db *Database) artistDisplayNames(keys []model.ArtistKey) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if a := db.artists[k]; a != nil {
			out = append(out, a.Name)
		}
	}
	return out
}

// GetCanonicalFileName renders the canonical path for the song identified
// by key:
// "<header> - <year> - <albumTitle><diskPiece><track> - [<primaryArtist> - ]<songTitle><variationSuffixes><featuringSuffix><ext>"
func (db *Database) GetCanonicalFileName(key model.SongKey) (string, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()

	song := db.songs[key]
	if song == nil {
		return "", false
	}
	album := db.albums[song.Album]
	if album == nil {
		return "", false
	}

	var header string
	switch album.VAType {
	case model.VAOST:
		header = "Soundtrack"
	case model.VAVarious:
		header = "VA"
	default:
		header = joinArtistDisplay(db.artistDisplayNames(album.PrimaryArtists))
	}

	diskNum := song.DiskNum()
	trackOnDisk := song.TrackOnDisk()
	diskPiece := "/"
	if song.Track >= 99 {
		if diskNum < len(album.DiskNames) && album.DiskNames[diskNum] != "" {
			diskPiece = fmt.Sprintf("/Disk %d- %s/", diskNum, album.DiskNames[diskNum])
		} else {
			diskPiece = fmt.Sprintf("/Disk %d/", diskNum)
		}
	}
	trackStr := fmt.Sprintf("%02d", trackOnDisk)

	var artistPrefix string
	if album.VAType != model.VANone {
		if names := db.artistDisplayNames(song.PrimaryArtists); len(names) > 0 {
			artistPrefix = joinArtistDisplay(names) + " - "
		}
	}

	title := strings.ReplaceAll(song.Title, " with - ", " w- ")

	var variationSuffix string
	for _, v := range song.Variations {
		variationSuffix += " (" + v + ")"
	}

	var featuringSuffix string
	if names := db.artistDisplayNames(song.SecondaryArtists); len(names) > 0 {
		featuringSuffix = " (feat. " + joinArtistDisplay(names) + ")"
	}

	ext := filepath.Ext(song.Path)

	name := fmt.Sprintf(
		"%s - %d - %s%s%s - %s%s%s%s%s",
		header, album.Year, album.Title, diskPiece, trackStr,
		artistPrefix, title, variationSuffix, featuringSuffix, ext,
	)
	return name, true
}
