package tokenizer

// Stopwords is a set of lowercased words dropped during tokenization.
type Stopwords map[string]struct{}

// Has reports whether word is in the set.
func (s Stopwords) Has(word string) bool {
	_, ok := s[word]
	return ok
}

func newStopwords(words ...string) Stopwords {
	s := make(Stopwords, len(words))
	for _, w := range words {
		s[w] = struct{}{}
	}
	return s
}

// Core is the small set used for queries and for short fields such as
// names and titles, where dropping common words would destroy the value.
var Core = newStopwords(
	"a", "an", "the", "and", "or", "of", "to", "in", "is", "it",
	"as", "at", "be", "by", "on",
)

// Common is the aggressive set used for ordinary prose fields.
var Common = newStopwords(
	// core
	"a", "an", "the", "and", "or", "of", "to", "in", "is", "it",
	"as", "at", "be", "by", "on",

	// pronouns
	"i", "me", "my", "myself", "we", "our", "ours", "ourselves",
	"you", "your", "yours", "yourself", "yourselves",
	"he", "him", "his", "himself", "she", "her", "hers", "herself",
	"its", "itself", "they", "them", "their", "theirs", "themselves",

	// prepositions and conjunctions
	"for", "with", "about", "against", "between", "into", "through",
	"during", "before", "after", "above", "below", "from", "up", "down",
	"out", "off", "over", "under", "but", "if", "while", "because",
	"until", "than", "so", "nor", "yet",

	// auxiliaries
	"am", "are", "was", "were", "been", "being", "have", "has", "had",
	"having", "do", "does", "did", "doing", "will", "would", "should",
	"could", "can", "may", "might", "must", "shall",

	// determiners and adverbs
	"this", "that", "these", "those", "what", "which", "who", "whom",
	"whose", "when", "where", "why", "how", "all", "any", "each", "every",
	"both", "few", "more", "most", "other", "some", "such", "no", "not",
	"only", "own", "same", "then", "there", "too", "very", "just", "also",
	"here", "again", "once", "further",
)
