package models

import "regexp"

var hashtagRe = regexp.MustCompile(`#\w+`)

// ExtractHashtags returns every #word token in order of appearance. Repeats are kept.
func ExtractHashtags(content string) []string {
	found := hashtagRe.FindAllString(content, -1)
	if found == nil {
		return []string{}
	}
	return found
}
