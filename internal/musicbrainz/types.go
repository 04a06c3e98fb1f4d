package musicbrainz

// Recording is a MusicBrainz recording (§3 Track maps to this).
type Recording struct {
	ID       string         `json:"id"`
	Title    string         `json:"title"`
	Length   int            `json:"length"`
	ISRCs    []string       `json:"isrcs"`
	Score    int            `json:"score"`
	Credits  []ArtistCredit `json:"artist-credit"`
	Releases []ReleaseRef   `json:"releases"`
}

// ArtistCredit is one entry of a recording or release's artist-credit array.
type ArtistCredit struct {
	Name       string `json:"name"`
	JoinPhrase string `json:"joinphrase"`
	Artist     Artist `json:"artist"`
}

// Artist is a MusicBrainz artist.
type Artist struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Type       string      `json:"type"`
	Gender     string      `json:"gender"`
	LifeSpan   LifeSpan    `json:"life-span"`
	Relations  []Relation  `json:"relations"`
	Score      int         `json:"score"`
}

// LifeSpan carries an artist's begin/end date strings at whatever
// precision MusicBrainz has recorded (§3 "date precision").
type LifeSpan struct {
	Begin string `json:"begin"`
	End   string `json:"end"`
	Ended bool   `json:"ended"`
}

// Relation is one relationship edge in an artist's relations list,
// covering the "member of band" / "has member" direction pair that
// backs group↔member membership stints (§4.G).
type Relation struct {
	Type      string    `json:"type"`
	Direction string    `json:"direction"`
	Begin     string     `json:"begin"`
	End        string     `json:"end"`
	Ended      bool       `json:"ended"`
	Artist     Artist     `json:"artist"`
}

// ReleaseRef is a lightweight reference to a release from a recording's
// releases list.
type ReleaseRef struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Date  string `json:"date"`
}

// Release is a full MusicBrainz release (§3 Album maps to this).
type Release struct {
	ID      string         `json:"id"`
	Title   string         `json:"title"`
	Date    string         `json:"date"`
	Credits []ArtistCredit `json:"artist-credit"`
	Media   []Medium       `json:"media"`
}

// Medium is one disc/side of a release.
type Medium struct {
	Position int          `json:"position"`
	Tracks   []MediaTrack `json:"tracks"`
}

// MediaTrack is one track listing within a Medium.
type MediaTrack struct {
	Title    string `json:"title"`
	Position int    `json:"position"`
}

// CoverArtResponse is the Cover Art Archive's release image listing.
type CoverArtResponse struct {
	Images []CoverImage `json:"images"`
}

// CoverImage is one image entry, with thumbnail URLs at several sizes.
type CoverImage struct {
	Front      bool              `json:"front"`
	Image      string            `json:"image"`
	Thumbnails map[string]string `json:"thumbnails"`
}

type searchRecordingsResponse struct {
	Recordings []Recording `json:"recordings"`
}

type searchReleasesResponse struct {
	Releases []Release `json:"releases"`
}
