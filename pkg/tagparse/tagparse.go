// Package tagparse provides the tag-parsing collaborator the indexer
// depends on: ParsePath (a filename-pattern fallback), ParseFile (reads
// embedded container tags), and Synthesize (turns a raw tag map into
// model.Metadata). The default adapter wraps github.com/dhowden/tag; the
// path parser is regex-based.
package tagparse

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/dhowden/tag"
	"github.com/nilsgravlund/afidb/pkg/model"
)

// Parser is the tag-parser collaborator's interface.
type Parser interface {
	// ParsePath infers metadata from the file's path alone, using the
	// grammar ".../<Artist> - <Year> - <Album>/<Track> - <Title>.<ext>".
	// Returns ok=false when the path doesn't match.
	ParsePath(path string) (model.Metadata, bool)
	// ParseFile opens path and reads its embedded container tags.
	// Returns an error only on a hard failure (unreadable file,
	// unrecognized container); a file with no tags at all is not an
	// error, it's an empty result.
	ParseFile(path string) (RawTags, error)
	// Synthesize turns a RawTags (plus the path, for fallback fields)
	// into a full model.Metadata record.
	Synthesize(path string, raw RawTags) model.Metadata
}

// RawTags is the tag-map shape handed back by ParseFile: deliberately
// loose, holding just the fields the resolution pipeline needs.
type RawTags struct {
	Artist      string
	AlbumArtist string
	Album       string
	Title       string
	Track       int
	Disc        int
	Year        int
	Comment     string
	Picture     []byte
}

// filenamePattern matches "<Artist> - <Year> - <Album>/<Track> -
// <Title>.<ext>". <Track> is an integer, possibly encoding disk via a
// leading digit (e.g. "203" = disk 2, track 3).
var filenamePattern = regexp.MustCompile(
	`(?i)^(?:.*[/\\])?([^/\\]+?)\s*-\s*(\d{4})\s*-\s*([^/\\]+?)[/\\]+(\d+)\s*-\s*([^/\\]+)\.([A-Za-z0-9]+)$`,
)

// DhowdenAdapter is the default Parser, wrapping github.com/dhowden/tag
// for ParseFile/Synthesize and a hand-rolled regex parser for ParsePath.
type DhowdenAdapter struct{}

// NewDhowdenAdapter returns a ready-to-use DhowdenAdapter.
func NewDhowdenAdapter() DhowdenAdapter { return DhowdenAdapter{} }

// ParsePath implements Parser.ParsePath against filenamePattern's grammar.
func (DhowdenAdapter) ParsePath(path string) (model.Metadata, bool) {
	slash := filepath.ToSlash(path)
	m := filenamePattern.FindStringSubmatch(slash)
	if m == nil {
		return model.Metadata{}, false
	}
	artist, yearStr, album, trackStr, title := m[1], m[2], m[3], m[4], m[5]
	year, _ := strconv.Atoi(yearStr)
	track := parseTrackDigits(trackStr)
	return model.Metadata{
		Artist: strings.TrimSpace(artist),
		Album:  strings.TrimSpace(album),
		Title:  strings.TrimSpace(title),
		Year:   year,
		Track:  track,
	}, true
}

// parseTrackDigits interprets a filename-embedded track number:
// short numbers (<=2 digits) are a plain track; longer numbers encode disk
// in the leading digit(s) the way model.EncodeTrack expects (disk*100 +
// track), e.g. "203" -> disk 2 track 3, "12" -> disk 0 track 12.
func parseTrackDigits(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	if len(s) <= 2 {
		return n
	}
	disk := n / 100
	onDisk := n % 100
	return model.EncodeTrack(disk, onDisk)
}

// ParseFile implements Parser.ParseFile by reading embedded tags via
// dhowden/tag. A file with no recognizable tag container is a hard
// failure (the caller marks the path do-not-retry); dhowden/tag's own
// ErrNoTagsFound and any I/O error both surface here.
func (DhowdenAdapter) ParseFile(path string) (RawTags, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return RawTags{}, fmt.Errorf("tagparse: open %q: %w", path, model.ErrMissingFile)
		}
		return RawTags{}, fmt.Errorf("tagparse: open %q: %w", path, err)
	}
	defer f.Close()

	md, err := tag.ReadFrom(f)
	if err != nil {
		return RawTags{}, fmt.Errorf("tagparse: read %q: %w: %w", path, model.ErrParseFailure, err)
	}

	trackNum, _ := md.Track()
	discNum, _ := md.Disc()
	var pic []byte
	if p := md.Picture(); p != nil {
		pic = p.Data
	}
	return RawTags{
		Artist:      md.Artist(),
		AlbumArtist: md.AlbumArtist(),
		Album:       md.Album(),
		Title:       md.Title(),
		Track:       trackNum,
		Disc:        discNum,
		Year:        md.Year(),
		Comment:     md.Comment(),
		Picture:     pic,
	}, nil
}

// Synthesize implements Parser.Synthesize. AlbumArtist is carried through
// as its own field so the caller can tell a distinct track artist apart
// from the album's headline artist; the free-text comment is mined for
// variation tags and featuring artists.
func (DhowdenAdapter) Synthesize(path string, raw RawTags) model.Metadata {
	artist := raw.Artist
	if artist == "" {
		artist = raw.AlbumArtist
	}
	title := raw.Title
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	disk := raw.Disc
	if disk < 0 {
		disk = 0
	}
	variations, featuring := enrichFromComment(raw.Comment)
	return model.Metadata{
		Artist:      artist,
		AlbumArtist: raw.AlbumArtist,
		Album:       raw.Album,
		Title:       title,
		Track:       model.EncodeTrack(disk, raw.Track),
		Year:        raw.Year,
		Variations:  variations,
		Featuring:   featuring,
	}
}

// featuringField matches a "feat."-style comment field and captures the
// artist list after the marker.
var featuringField = regexp.MustCompile(`(?i)^(?:feat\.?|featuring|ft\.?)\s+(.+)$`)

// variationMarkers are the words that make a short comment field read as
// a performance/edition tag rather than free prose.
var variationMarkers = []string{
	"live", "remix", "acoustic", "demo", "instrumental",
	"remaster", "mono", "stereo", "edit", "mix", "version", "bonus",
}

// enrichFromComment mines the free-text comment tag: fields (split on
// ";" and newlines) starting with a "feat." marker contribute featuring
// artists, and short fields carrying a variation marker ("Live",
// "2011 Remaster") become variation tags. Anything else, including long
// prose comments, is ignored.
func enrichFromComment(comment string) (variations, featuring []string) {
	fields := strings.FieldsFunc(comment, func(r rune) bool {
		return r == ';' || r == '\n'
	})
	for _, field := range fields {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		if m := featuringField.FindStringSubmatch(field); m != nil {
			names := strings.FieldsFunc(m[1], func(r rune) bool {
				return r == ',' || r == '&'
			})
			for _, name := range names {
				if name = strings.TrimSpace(name); name != "" {
					featuring = append(featuring, name)
				}
			}
			continue
		}
		if isVariationTag(field) {
			variations = append(variations, field)
		}
	}
	return variations, featuring
}

func isVariationTag(field string) bool {
	words := strings.Fields(strings.ToLower(field))
	if len(words) == 0 || len(words) > 3 {
		return false
	}
	for _, w := range words {
		for _, marker := range variationMarkers {
			if strings.HasPrefix(w, marker) {
				return true
			}
		}
	}
	return false
}
