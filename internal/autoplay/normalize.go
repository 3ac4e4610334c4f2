package autoplay

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	bracketed     = regexp.MustCompile(`\s*[\(\[【「][^\)\]】」]*[\)\]】」]`)
	featuring     = regexp.MustCompile(`(?i)\s+(?:ft\.?|feat\.?|featuring)\s+.*$`)
	noiseSuffix   = regexp.MustCompile(`(?i)\s*[-|/]?\s*\b(?:official\s+)?(?:music\s+video|lyric\s+video|lyrics?|audio|visuali[sz]er|video|mv|m/v|hd|4k)\s*$`)
	channelSuffix = regexp.MustCompile(`(?i)\s*(?:-\s*topic|vevo|official(?:\s+channel)?)\s*$`)
	artistSplit   = regexp.MustCompile(`(?i)\s*[,&]\s*|\s+(?:x|with|feat\.?|ft\.?)\s+`)
	spaces        = regexp.MustCompile(`\s+`)
)

// cleanTitle strips decorations YouTube uploads add to song titles.
func cleanTitle(title string) string {
	t := bracketed.ReplaceAllString(title, "")
	t = featuring.ReplaceAllString(t, "")
	for {
		next := noiseSuffix.ReplaceAllString(t, "")
		if next == t {
			break
		}
		t = next
	}
	t = strings.Trim(spaces.ReplaceAllString(t, " "), " -|")
	if t == "" {
		return strings.TrimSpace(title)
	}
	return t
}

func cleanAuthor(author string) string {
	a := strings.TrimSpace(author)
	for {
		next := strings.TrimSpace(channelSuffix.ReplaceAllString(a, ""))
		if next == a {
			break
		}
		a = next
	}
	return a
}

// normalizeArtist reduces an author string to a comparison key: the primary
// artist, lowercased, without channel decorations.
func normalizeArtist(author string) string {
	a := strings.ToLower(cleanAuthor(author))
	if parts := artistSplit.Split(a, 2); len(parts) > 0 {
		a = parts[0]
	}
	return strings.TrimSpace(spaces.ReplaceAllString(a, " "))
}

// splitUpload separates "Artist - Title" uploads. When the title carries no
// artist part, the channel name is used.
func splitUpload(title, author string) (song, artist string) {
	song = cleanTitle(title)
	artist = cleanAuthor(author)

	left, right, ok := strings.Cut(song, " - ")
	if !ok {
		return song, artist
	}
	left, right = strings.TrimSpace(left), strings.TrimSpace(right)
	if left == "" || right == "" {
		return song, artist
	}
	return right, left
}

// fuzzyKey is the lowercased, cleaned title cut to n runes.
func fuzzyKey(title string, n int) string {
	key := strings.ToLower(cleanTitle(title))
	if n > 0 && utf8.RuneCountInString(key) > n {
		key = string([]rune(key)[:n])
	}
	return strings.TrimSpace(key)
}

// similarTitles reports whether two fuzzy keys name the same song: equal, or
// one contains the other once both are long enough to be meaningful.
func similarTitles(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	const minOverlap = 4
	if utf8.RuneCountInString(a) < minOverlap || utf8.RuneCountInString(b) < minOverlap {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}
