package musicbrainz

import "testing"

func TestEscapeLucene(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "abba", `"abba"`},
		{"colon", "a:b", `"a\:b"`},
		{"multiple special", "a+b-c", `"a\+b\-c"`},
		{"quote", `foo"bar`, `"foo\"bar"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := escapeLucene(tt.in); got != tt.want {
				t.Errorf("escapeLucene(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestBuildRecordingQuery(t *testing.T) {
	got := buildRecordingQuery("Dancing Queen", "ABBA", "Arrival")
	want := `recording:"Dancing Queen" AND artist:"ABBA" AND release:"Arrival"`
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	got = buildRecordingQuery("Dancing Queen", "", "")
	want = `recording:"Dancing Queen"`
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestPickCoverURL(t *testing.T) {
	str := func(s string) *string { return &s }

	tests := []struct {
		name   string
		images []CoverImage
		want   *string
	}{
		{"no images", nil, nil},
		{
			"prefers front, largest thumbnail",
			[]CoverImage{
				{Front: false, Image: "back.jpg", Thumbnails: map[string]string{"1200": "back-1200.jpg"}},
				{Front: true, Image: "front.jpg", Thumbnails: map[string]string{"500": "front-500.jpg", "1200": "front-1200.jpg"}},
			},
			str("front-1200.jpg"),
		},
		{
			"falls back through preference order",
			[]CoverImage{
				{Front: true, Image: "front.jpg", Thumbnails: map[string]string{"250": "front-250.jpg"}},
			},
			str("front-250.jpg"),
		},
		{
			"falls back to full image when no thumbnails match",
			[]CoverImage{
				{Front: true, Image: "front.jpg", Thumbnails: map[string]string{}},
			},
			str("front.jpg"),
		},
		{
			"no front flag uses first image",
			[]CoverImage{
				{Front: false, Image: "only.jpg", Thumbnails: map[string]string{"500": "only-500.jpg"}},
			},
			str("only-500.jpg"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := pickCoverURL(tt.images)
			if (got == nil) != (tt.want == nil) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			if got != nil && *got != *tt.want {
				t.Errorf("got %q, want %q", *got, *tt.want)
			}
		})
	}
}
