package upload

import (
	"path/filepath"
	"sort"
	"strings"
)

// naturalLess orders names so that embedded numbers compare by value:
// "page2.jpg" sorts before "page10.jpg".
func naturalLess(a, b string) bool {
	ar, br := []rune(strings.ToLower(a)), []rune(strings.ToLower(b))
	i, j := 0, 0
	for i < len(ar) && j < len(br) {
		if isDigit(ar[i]) && isDigit(br[j]) {
			si := i
			for i < len(ar) && isDigit(ar[i]) {
				i++
			}
			sj := j
			for j < len(br) && isDigit(br[j]) {
				j++
			}
			na := strings.TrimLeft(string(ar[si:i]), "0")
			nb := strings.TrimLeft(string(br[sj:j]), "0")
			if len(na) != len(nb) {
				return len(na) < len(nb)
			}
			if na != nb {
				return na < nb
			}
			continue
		}
		if ar[i] != br[j] {
			return ar[i] < br[j]
		}
		i++
		j++
	}
	if len(ar)-i != len(br)-j {
		return len(ar)-i < len(br)-j
	}
	return a < b
}

// isDigit accepts ASCII digits only; other scripts compare as text
func isDigit(r rune) bool {
	return '0' <= r && r <= '9'
}

func naturalCompare(a, b string) int {
	switch {
	case naturalLess(a, b):
		return -1
	case naturalLess(b, a):
		return 1
	}
	return 0
}

// sortNatural orders paths by their natural position below root
func sortNatural(paths []string, root string) {
	rel := func(p string) string {
		if r, err := filepath.Rel(root, p); err == nil {
			return filepath.ToSlash(r)
		}
		return p
	}
	sort.SliceStable(paths, func(i, j int) bool {
		return naturalLess(rel(paths[i]), rel(paths[j]))
	})
}
