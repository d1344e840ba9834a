package audiodb

import (
	"encoding/json"
	"fmt"

	"github.com/nilsgravlund/afidb/pkg/model"
)

// The JSON shapes below are the on-disk wire format for the
// "audio-database" item: {dbSongs, dbAlbums, dbArtists, albumTitleIndex,
// artistNameIndex, indices:[{location,hash}]}.

type songWire struct {
	Key              string   `json:"key"`
	Path             string   `json:"path"`
	Title            string   `json:"title"`
	Track            int      `json:"track"`
	Album            string   `json:"album"`
	PrimaryArtists   []string `json:"primaryArtists"`
	SecondaryArtists []string `json:"secondaryArtists"`
	Variations       []string `json:"variations,omitempty"`
}

type albumWire struct {
	Key            string   `json:"key"`
	Title          string   `json:"title"`
	Year           int      `json:"year"`
	VAType         string   `json:"vatype,omitempty"`
	PrimaryArtists []string `json:"primaryArtists"`
	Songs          []string `json:"songs"`
	DiskNames      []string `json:"diskNames,omitempty"`
}

type artistWire struct {
	Key    string   `json:"key"`
	Name   string   `json:"name"`
	Songs  []string `json:"songs"`
	Albums []string `json:"albums"`
}

type locationWire struct {
	Location string `json:"location"`
	Hash     uint32 `json:"hash"`
}

type databaseWireFormat struct {
	Songs           []songWire          `json:"dbSongs"`
	Albums          []albumWire         `json:"dbAlbums"`
	Artists         []artistWire        `json:"dbArtists"`
	AlbumTitleIndex map[string][]string `json:"albumTitleIndex"`
	ArtistNameIndex map[string]string   `json:"artistNameIndex"`
	Indices         []locationWire      `json:"indices"`
}

// decoded is the in-memory form decodeDatabaseWire produces.
type decoded struct {
	songs           map[model.SongKey]*model.Song
	albums          map[model.AlbumKey]*model.Album
	artists         map[model.ArtistKey]*model.Artist
	albumTitleIndex map[string][]model.AlbumKey
	artistNameIndex map[string]model.ArtistKey
	indices         []locationWire
}

func encodeDatabaseWire(db *Database) string {
	wire := databaseWireFormat{
		AlbumTitleIndex: make(map[string][]string, len(db.albumTitleIndex)),
		ArtistNameIndex: make(map[string]string, len(db.artistNameIndex)),
	}

	for _, s := range db.songs {
		wire.Songs = append(wire.Songs, songWire{
			Key:              string(s.Key),
			Path:             s.Path,
			Title:            s.Title,
			Track:            s.Track,
			Album:            string(s.Album),
			PrimaryArtists:   artistKeysToStrings(s.PrimaryArtists),
			SecondaryArtists: artistKeysToStrings(s.SecondaryArtists),
			Variations:       s.Variations,
		})
	}
	for _, a := range db.albums {
		wire.Albums = append(wire.Albums, albumWire{
			Key:            string(a.Key),
			Title:          a.Title,
			Year:           a.Year,
			VAType:         string(a.VAType),
			PrimaryArtists: artistKeysToStrings(a.PrimaryArtists),
			Songs:          songKeysToStrings(a.Songs),
			DiskNames:      a.DiskNames,
		})
	}
	for _, ar := range db.artists {
		wire.Artists = append(wire.Artists, artistWire{
			Key:    string(ar.Key),
			Name:   ar.Name,
			Songs:  songKeysToStrings(ar.Songs),
			Albums: albumKeysToStrings(ar.Albums),
		})
	}
	for norm, keys := range db.albumTitleIndex {
		wire.AlbumTitleIndex[norm] = albumKeysToStrings(keys)
	}
	for norm, key := range db.artistNameIndex {
		wire.ArtistNameIndex[norm] = string(key)
	}
	for _, root := range db.afiOrder {
		a := db.afis[root]
		if a == nil {
			continue
		}
		wire.Indices = append(wire.Indices, locationWire{Location: root, Hash: a.Hash})
	}

	raw, err := json.Marshal(wire)
	if err != nil {
		// Every field above is a plain string/slice/map; marshaling cannot
		// fail in practice.
		return "{}"
	}
	return string(raw)
}

func decodeDatabaseWire(raw string) (*decoded, error) {
	var wire databaseWireFormat
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return nil, fmt.Errorf("audiodb: unmarshal database: %w", err)
	}

	out := &decoded{
		songs:           make(map[model.SongKey]*model.Song, len(wire.Songs)),
		albums:          make(map[model.AlbumKey]*model.Album, len(wire.Albums)),
		artists:         make(map[model.ArtistKey]*model.Artist, len(wire.Artists)),
		albumTitleIndex: make(map[string][]model.AlbumKey, len(wire.AlbumTitleIndex)),
		artistNameIndex: make(map[string]model.ArtistKey, len(wire.ArtistNameIndex)),
		indices:         wire.Indices,
	}

	for _, s := range wire.Songs {
		out.songs[model.SongKey(s.Key)] = &model.Song{
			Key:              model.SongKey(s.Key),
			Path:             s.Path,
			Title:            s.Title,
			Track:            s.Track,
			Album:            model.AlbumKey(s.Album),
			PrimaryArtists:   stringsToArtistKeys(s.PrimaryArtists),
			SecondaryArtists: stringsToArtistKeys(s.SecondaryArtists),
			Variations:       s.Variations,
		}
	}
	for _, a := range wire.Albums {
		out.albums[model.AlbumKey(a.Key)] = &model.Album{
			Key:            model.AlbumKey(a.Key),
			Title:          a.Title,
			Year:           a.Year,
			VAType:         model.VAType(a.VAType),
			PrimaryArtists: stringsToArtistKeys(a.PrimaryArtists),
			Songs:          stringsToSongKeys(a.Songs),
			DiskNames:      a.DiskNames,
		}
	}
	for _, a := range wire.Artists {
		out.artists[model.ArtistKey(a.Key)] = &model.Artist{
			Key:    model.ArtistKey(a.Key),
			Name:   a.Name,
			Songs:  stringsToSongKeys(a.Songs),
			Albums: stringsToAlbumKeys(a.Albums),
		}
	}
	for norm, keys := range wire.AlbumTitleIndex {
		out.albumTitleIndex[norm] = stringsToAlbumKeys(keys)
	}
	for norm, key := range wire.ArtistNameIndex {
		out.artistNameIndex[norm] = model.ArtistKey(key)
	}
	return out, nil
}

func artistKeysToStrings(keys []model.ArtistKey) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = string(k)
	}
	return out
}

func songKeysToStrings(keys []model.SongKey) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = string(k)
	}
	return out
}

func albumKeysToStrings(keys []model.AlbumKey) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = string(k)
	}
	return out
}

func stringsToArtistKeys(ss []string) []model.ArtistKey {
	if len(ss) == 0 {
		return nil
	}
	out := make([]model.ArtistKey, len(ss))
	for i, s := range ss {
		out[i] = model.ArtistKey(s)
	}
	return out
}

func stringsToSongKeys(ss []string) []model.SongKey {
	if len(ss) == 0 {
		return nil
	}
	out := make([]model.SongKey, len(ss))
	for i, s := range ss {
		out[i] = model.SongKey(s)
	}
	return out
}

func stringsToAlbumKeys(ss []string) []model.AlbumKey {
	if len(ss) == 0 {
		return nil
	}
	out := make([]model.AlbumKey, len(ss))
	for i, s := range ss {
		out[i] = model.AlbumKey(s)
	}
	return out
}
