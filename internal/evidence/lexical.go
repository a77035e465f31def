package evidence

import "strings"

var positiveWords = map[string]bool{
	"great": true, "excellent": true, "love": true, "loved": true, "loves": true,
	"amazing": true, "perfect": true, "best": true, "good": true, "quiet": true,
	"reliable": true, "sturdy": true, "durable": true, "easy": true, "fast": true,
	"recommend": true, "recommended": true, "worth": true, "comfortable": true,
	"impressed": true, "solid": true, "fantastic": true, "awesome": true,
	"happy": true, "pleased": true, "smooth": true, "powerful": true,
	"value": true, "bargain": true, "favorite": true, "works": true,
}

var negativeWords = map[string]bool{
	"bad": true, "poor": true, "terrible": true, "awful": true, "broke": true,
	"broken": true, "cracked": true, "cheap": true, "flimsy": true, "loud": true,
	"noisy": true, "disappointed": true, "disappointing": true, "returned": true,
	"refund": true, "waste": true, "worst": true, "slow": true, "leaks": true,
	"leaked": true, "leaking": true, "defective": true, "stopped": true,
	"failed": true, "fails": true, "overpriced": true, "expensive": true,
	"hard": true, "difficult": true, "problem": true, "problems": true,
	"issue": true, "issues": true, "avoid": true, "useless": true, "hate": true,
}

var negators = map[string]bool{
	"not": true, "no": true, "never": true, "hardly": true, "isn't": true,
	"wasn't": true, "doesn't": true, "didn't": true, "don't": true, "won't": true,
	"can't": true, "cannot": true, "without": true,
}

// LexicalLabel classifies a fragment by counting sentiment words. A
// sentiment word directly preceded by a negator counts for the other
// side. Ties are neutral.
func LexicalLabel(text string) Label {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && r != '\''
	})

	score := 0
	for i, w := range words {
		w = strings.Trim(w, "'")
		var s int
		switch {
		case positiveWords[w]:
			s = 1
		case negativeWords[w]:
			s = -1
		default:
			continue
		}
		if i > 0 && negators[strings.Trim(words[i-1], "'")] {
			s = -s
		}
		score += s
	}

	switch {
	case score > 0:
		return Pro
	case score < 0:
		return Con
	default:
		return Neutral
	}
}
