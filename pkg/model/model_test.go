package model

import "testing"

func TestNormStripsLeadingArticleAndFolds(t *testing.T) {
	cases := map[string]string{
		"The Beatles":     "beatles",
		"A Hard Day":      "hard day",
		"An Album":        "album",
		"  Metallica  ":   "metallica",
		"The   The":       "the", // only the leading article is stripped
		"Anaconda":        "anaconda",
	}
	for in, want := range cases {
		if got := Norm(in); got != want {
			t.Errorf("Norm(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormCollapsesInternalWhitespace(t *testing.T) {
	got := Norm("Pink   Floyd\tDark  Side")
	want := "pink floyd dark side"
	if got != want {
		t.Errorf("Norm collapsed whitespace = %q, want %q", got, want)
	}
}

func TestEncodeTrackAndAccessors(t *testing.T) {
	track := EncodeTrack(2, 3)
	if track != 203 {
		t.Fatalf("EncodeTrack(2, 3) = %d, want 203", track)
	}
	s := &Song{Track: track}
	if s.DiskNum() != 2 {
		t.Errorf("DiskNum() = %d, want 2", s.DiskNum())
	}
	if s.TrackOnDisk() != 3 {
		t.Errorf("TrackOnDisk() = %d, want 3", s.TrackOnDisk())
	}
}

func TestEncodeTrackDiskZero(t *testing.T) {
	track := EncodeTrack(0, 7)
	if track != 7 {
		t.Fatalf("EncodeTrack(0, 7) = %d, want 7", track)
	}
}

func TestMetadataIsComplete(t *testing.T) {
	incomplete := Metadata{Artist: "A", Album: "B", Title: "C"}
	if incomplete.IsComplete() {
		t.Fatal("expected incomplete metadata with Track == 0 to be incomplete")
	}
	complete := incomplete
	complete.Track = 1
	if !complete.IsComplete() {
		t.Fatal("expected fully populated metadata to be complete")
	}
}

func TestMetadataMergeOverrideTakesPrecedence(t *testing.T) {
	base := Metadata{
		OriginalPath: "a/b.flac",
		Artist:       "Base Artist",
		Album:        "Base Album",
		Title:        "Base Title",
		Track:        1,
		Year:         1999,
	}
	override := Metadata{
		Artist: "Override Artist",
		Year:   2000,
	}
	merged := base.Merge(override)

	if merged.Artist != "Override Artist" {
		t.Errorf("Artist = %q, want override to win", merged.Artist)
	}
	if merged.Year != 2000 {
		t.Errorf("Year = %d, want override to win", merged.Year)
	}
	// Fields the override left zero-valued keep the base's value.
	if merged.Album != "Base Album" {
		t.Errorf("Album = %q, want base to survive an unset override field", merged.Album)
	}
	if merged.Title != "Base Title" {
		t.Errorf("Title = %q, want base to survive an unset override field", merged.Title)
	}
	if merged.Track != 1 {
		t.Errorf("Track = %d, want base to survive an unset override field", merged.Track)
	}
	if merged.OriginalPath != "a/b.flac" {
		t.Errorf("OriginalPath = %q, want it taken from md regardless of override", merged.OriginalPath)
	}
}

func TestMetadataMergeEmptyOverrideIsNoOp(t *testing.T) {
	base := Metadata{Artist: "X", Album: "Y", Title: "Z", Track: 5, Year: 2001}
	merged := base.Merge(Metadata{})
	if !merged.Equal(base) {
		t.Fatalf("merging an empty override changed the record: %+v != %+v", merged, base)
	}
}

func TestMetadataEqualTreatsArraysAsSets(t *testing.T) {
	a := Metadata{Artist: "X", Featuring: []string{"A", "B"}}
	b := Metadata{Artist: "X", Featuring: []string{"B", "A"}}
	if !a.Equal(b) {
		t.Fatal("expected Equal to treat Featuring as an unordered set")
	}

	c := Metadata{Artist: "X", Featuring: []string{"A", "B", "B"}}
	if a.Equal(c) {
		t.Fatal("expected Equal to distinguish differing multiplicities")
	}
}

func TestMetadataEqualDistinguishesScalarFields(t *testing.T) {
	a := Metadata{Artist: "X", Year: 2000}
	b := Metadata{Artist: "X", Year: 2001}
	if a.Equal(b) {
		t.Fatal("expected differing Year to make records unequal")
	}
}
