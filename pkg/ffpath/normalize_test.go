package ffpath

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"posix absolute", "/var/lib/reelsmith/captions.srt", "/var/lib/reelsmith/captions.srt"},
		{"windows drive backslashes", `C:\Users\me\work\captions.srt`, `C\:/Users/me/work/captions.srt`},
		{"windows drive forward slashes", "d:/render/out.srt", `d\:/render/out.srt`},
		{"literal quote", "/tmp/it's here/captions.srt", `/tmp/it\'s here/captions.srt`},
		{"drive and quote", `E:\Bob's\a.srt`, `E\:/Bob\'s/a.srt`},
		{"colon mid path", "/tmp/a:b/c.srt", `/tmp/a\:b/c.srt`},
		{"windows component starting with quote", `C:\tmp\'q\x.srt`, `C\:/tmp/\'q/x.srt`},
		{"escaped posix path", `/tmp/it\'s/a\:b.srt`, `/tmp/it\'s/a\:b.srt`},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	paths := []string{
		"/var/lib/reelsmith/captions.srt",
		`C:\Users\me\captions.srt`,
		"C:/Users/me/captions.srt",
		"/tmp/it's/captions.srt",
		`\\server\share\x.srt`,
		`already\:escaped\'path`,
		"trailing\\",
		`C:\tmp\'q\x.srt`,
		`dir\sub\'q.srt`,
	}
	for _, p := range paths {
		once := Normalize(p)
		assert.Equal(t, once, Normalize(once), "path %q", p)
	}
}

func TestManifestEntryEscapesSpaces(t *testing.T) {
	assert.Equal(t, `/tmp/my\ video/scene_000.png`, ManifestEntry("/tmp/my video/scene_000.png"))
	assert.Equal(t, `C\:/My\ Files/it\'s.png`, ManifestEntry(`C:\My Files\it's.png`))
}

func TestQuoteArg(t *testing.T) {
	assert.Equal(t, `'C\:/work/captions.srt'`, QuoteArg(Normalize(`C:\work\captions.srt`)))
	assert.Equal(t, `'/tmp/it\'\''s/c.srt'`, QuoteArg(Normalize("/tmp/it's/c.srt")))
	assert.Equal(t, "''", QuoteArg(""))
}
