package audiodb

import (
	"path/filepath"

	"github.com/nilsgravlund/afidb/pkg/model"
)

// getOrNewAlbum matches the incoming song against existing albums of the
// same normalized title, or creates a fresh one. It returns the
// matched-or-created album together with the incoming song's primary and
// secondary artist sets as they should actually be recorded: a match
// against a VA/OST or identical-primary-artist album leaves them
// unchanged, but the "common directory, overlapping artists" branch
// demotes non-common artists to secondary (disableable via
// Config.PreserveIndependentAlbumsOnArtistConflict).
func (db *Database) getOrNewAlbum(
	title string, year int,
	primaryNames []string, primaryKeys, secondaryKeys []model.ArtistKey,
	vatype model.VAType, dirname string, diskNum int, diskName string,
) (album *model.Album, finalPrimary, finalSecondary []model.ArtistKey) {
	norm := model.Norm(title)
	candidates := db.albumTitleIndex[norm]

	for _, candKey := range candidates {
		cand := db.albums[candKey]
		if cand == nil || cand.Year != year {
			continue
		}

		if cand.VAType != model.VANone && cand.VAType == vatype {
			db.extendDiskNames(cand, diskNum, diskName)
			return cand, primaryKeys, secondaryKeys
		}

		if keySetEqual(cand.PrimaryArtists, primaryKeys) {
			for _, ak := range primaryKeys {
				if a := db.artists[ak]; a != nil {
					a.Albums = albumKeyAppendUnique(a.Albums, cand.Key)
				}
			}
			db.extendDiskNames(cand, diskNum, diskName)
			return cand, primaryKeys, secondaryKeys
		}

		if !db.cfg.PreserveIndependentAlbumsOnArtistConflict {
			firstSongDir := db.firstSongDir(cand)
			if firstSongDir != "" && firstSongDir != dirname {
				continue
			}

			common := keyIntersect(cand.PrimaryArtists, primaryKeys)
			if len(common) > 0 {
				nonCommonIncoming := keyRemoveAll(primaryKeys, common)
				finalPrimary = common
				finalSecondary = keyAppendUnique(append([]model.ArtistKey{}, secondaryKeys...), nonCommonIncoming...)

				nonCommonCand := keyRemoveAll(cand.PrimaryArtists, common)
				if len(nonCommonCand) > 0 {
					for _, sk := range cand.Songs {
						db.demoteSongArtists(sk, nonCommonCand)
					}
				}
				cand.PrimaryArtists = common
				db.extendDiskNames(cand, diskNum, diskName)
				return cand, finalPrimary, finalSecondary
			}

			cand.VAType = model.VAVarious
			cand.PrimaryArtists = nil
			db.extendDiskNames(cand, diskNum, diskName)
			return cand, primaryKeys, secondaryKeys
		}
	}

	key := db.mintAlbumKey(title, year, primaryNames, vatype)
	album = &model.Album{
		Key:    key,
		Title:  title,
		Year:   year,
		VAType: vatype,
	}
	if vatype == model.VANone {
		// VA/OST albums keep an empty primary-artist list; artist identity
		// plays no part in matching them.
		album.PrimaryArtists = append([]model.ArtistKey{}, primaryKeys...)
	}
	db.albums[key] = album
	db.albumTitleIndex[norm] = append(db.albumTitleIndex[norm], key)
	db.extendDiskNames(album, diskNum, diskName)
	return album, primaryKeys, secondaryKeys
}

// firstSongDir returns the containing directory of cand's first song, or
// "" if cand has no songs yet.
func (db *Database) firstSongDir(cand *model.Album) string {
	if len(cand.Songs) == 0 {
		return ""
	}
	song := db.songs[cand.Songs[0]]
	if song == nil {
		return ""
	}
	return filepath.ToSlash(filepath.Dir(song.Path))
}

// demoteSongArtists moves any artist in demote out of song's primary list
// and into its secondary list.
func (db *Database) demoteSongArtists(songKey model.SongKey, demote []model.ArtistKey) {
	song := db.songs[songKey]
	if song == nil {
		return
	}
	var stillPrimary, newlySecondary []model.ArtistKey
	for _, ak := range song.PrimaryArtists {
		if keyContains(demote, ak) {
			newlySecondary = append(newlySecondary, ak)
		} else {
			stillPrimary = append(stillPrimary, ak)
		}
	}
	if len(newlySecondary) == 0 {
		return
	}
	song.PrimaryArtists = stillPrimary
	song.SecondaryArtists = keyAppendUnique(song.SecondaryArtists, newlySecondary...)
}

// extendDiskNames monotonically grows album.DiskNames to accommodate
// diskNum, never shrinking and never overwriting an already-non-empty
// name.
func (db *Database) extendDiskNames(album *model.Album, diskNum int, diskName string) {
	if diskNum <= 0 && diskName == "" {
		return
	}
	for len(album.DiskNames) <= diskNum {
		album.DiskNames = append(album.DiskNames, "")
	}
	if diskName != "" && album.DiskNames[diskNum] == "" {
		album.DiskNames[diskNum] = diskName
	}
}
