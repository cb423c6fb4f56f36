package retrieval

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

// vectorizer builds TF-IDF vectors over unigrams and bigrams with sublinear
// term-frequency scaling, mirroring the tuning the diagnosis corpus was
// built for: english stop words removed, vocabulary capped by collection
// frequency, smoothed IDF, L2-normalised rows.
type vectorizer struct {
	maxFeatures int
	vocab       map[string]int
	idf         []float64
}

func newVectorizer(maxFeatures int) *vectorizer {
	if maxFeatures <= 0 {
		maxFeatures = 5000
	}
	return &vectorizer{maxFeatures: maxFeatures}
}

// fitTransform learns the vocabulary and IDF weights from docs and returns
// one normalised sparse vector per document.
func (v *vectorizer) fitTransform(docs []string) []map[int]float64 {
	tokenized := make([][]string, len(docs))
	for i, doc := range docs {
		tokenized[i] = ngrams(tokenize(doc))
	}

	// Collection frequency decides which terms survive the feature cap.
	collectionFreq := make(map[string]int)
	docFreq := make(map[string]int)
	for _, terms := range tokenized {
		seen := make(map[string]struct{}, len(terms))
		for _, term := range terms {
			collectionFreq[term]++
			if _, ok := seen[term]; !ok {
				seen[term] = struct{}{}
				docFreq[term]++
			}
		}
	}

	terms := make([]string, 0, len(collectionFreq))
	for term := range collectionFreq {
		terms = append(terms, term)
	}
	sort.Slice(terms, func(i, j int) bool {
		if collectionFreq[terms[i]] != collectionFreq[terms[j]] {
			return collectionFreq[terms[i]] > collectionFreq[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if len(terms) > v.maxFeatures {
		terms = terms[:v.maxFeatures]
	}

	v.vocab = make(map[string]int, len(terms))
	for i, term := range terms {
		v.vocab[term] = i
	}

	n := float64(len(docs))
	v.idf = make([]float64, len(terms))
	for term, idx := range v.vocab {
		df := float64(docFreq[term])
		v.idf[idx] = math.Log((1+n)/(1+df)) + 1
	}

	vectors := make([]map[int]float64, len(docs))
	for i, termList := range tokenized {
		vectors[i] = v.transform(termList)
	}
	return vectors
}

func (v *vectorizer) transform(terms []string) map[int]float64 {
	counts := make(map[int]float64)
	for _, term := range terms {
		if idx, ok := v.vocab[term]; ok {
			counts[idx]++
		}
	}

	vec := make(map[int]float64, len(counts))
	var norm float64
	for idx, tf := range counts {
		// Sublinear scaling: 1 + ln(tf).
		w := (1 + math.Log(tf)) * v.idf[idx]
		vec[idx] = w
		norm += w * w
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for idx := range vec {
			vec[idx] /= norm
		}
	}
	return vec
}

// cosine computes similarity between two L2-normalised sparse vectors.
func cosine(a, b map[int]float64) float64 {
	if len(b) < len(a) {
		a, b = b, a
	}
	var dot float64
	for idx, w := range a {
		if bw, ok := b[idx]; ok {
			dot += w * bw
		}
	}
	return dot
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// ngrams returns unigrams plus adjacent bigrams.
func ngrams(tokens []string) []string {
	out := make([]string, 0, 2*len(tokens))
	out = append(out, tokens...)
	for i := 0; i+1 < len(tokens); i++ {
		out = append(out, tokens[i]+" "+tokens[i+1])
	}
	return out
}

var stopWords = func() map[string]struct{} {
	list := []string{
		"a", "about", "above", "after", "again", "against", "all", "am", "an",
		"and", "any", "are", "as", "at", "be", "because", "been", "before",
		"being", "below", "between", "both", "but", "by", "can", "did", "do",
		"does", "doing", "down", "during", "each", "few", "for", "from",
		"further", "had", "has", "have", "having", "he", "her", "here", "hers",
		"him", "his", "how", "if", "in", "into", "is", "it", "its", "itself",
		"just", "me", "more", "most", "my", "no", "nor", "not", "now", "of",
		"off", "on", "once", "only", "or", "other", "our", "ours", "out",
		"over", "own", "same", "she", "should", "so", "some", "such", "than",
		"that", "the", "their", "theirs", "them", "then", "there", "these",
		"they", "this", "those", "through", "to", "too", "under", "until",
		"up", "very", "was", "we", "were", "what", "when", "where", "which",
		"while", "who", "whom", "why", "will", "with", "you", "your", "yours",
	}
	set := make(map[string]struct{}, len(list))
	for _, w := range list {
		set[w] = struct{}{}
	}
	return set
}()
