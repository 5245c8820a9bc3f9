package cipher

import (
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/cosmos/go-bip39"
)

var (
	// ErrInvalidMnemonic indicates the mnemonic is not valid.
	ErrInvalidMnemonic = errors.New("invalid mnemonic phrase")

	// whitespaceRegex matches one or more whitespace characters.
	whitespaceRegex = regexp.MustCompile(`\s+`)

	// numberedListRegex matches numbered list prefixes like "1." "2)" "3:"
	numberedListRegex = regexp.MustCompile(`(?m)^\s*\d+[\.\)\:]\s*`)

	// bulletListRegex matches bullet prefixes like "- " "* " "• "
	bulletListRegex = regexp.MustCompile(`(?m)^\s*[-*•]\s*`)
)

// mnemonicEntropyBits is the entropy used for new recovery phrases.
// 128 bits yields the standard 12-word phrase.
const mnemonicEntropyBits = 128

// GenerateMnemonic creates a new 12-word BIP39 recovery phrase.
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(mnemonicEntropyBits)
	if err != nil {
		return "", err
	}

	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", err
	}

	return mnemonic, nil
}

// ValidateMnemonic checks if a mnemonic phrase is valid according to BIP39.
// It verifies word count, word validity, and checksum.
func ValidateMnemonic(mnemonic string) error {
	if mnemonic == "" {
		return ErrInvalidMnemonic
	}

	normalized := NormalizeMnemonicInput(mnemonic)

	words := strings.Fields(normalized)
	if len(words) != 12 && len(words) != 24 {
		return ErrInvalidMnemonic
	}

	// MnemonicToByteArray validates word count, word validity, AND checksum
	if _, err := bip39.MnemonicToByteArray(normalized); err != nil {
		return ErrInvalidMnemonic
	}

	return nil
}

// NormalizeMnemonicInput cleans pasted recovery phrases: lowercases,
// strips numbered/bullet list prefixes and commas, and collapses
// whitespace runs to single spaces.
func NormalizeMnemonicInput(input string) string {
	input = strings.ToLower(input)
	input = numberedListRegex.ReplaceAllString(input, " ")
	input = bulletListRegex.ReplaceAllString(input, " ")
	input = strings.ReplaceAll(input, ",", " ")
	input = whitespaceRegex.ReplaceAllString(input, " ")
	return strings.TrimSpace(input)
}

// SeedFromMnemonic converts a BIP39 mnemonic phrase to its 64-byte seed,
// held in an mlock-backed SecureBytes container. The caller must Destroy
// the container after deriving keys from it.
func SeedFromMnemonic(mnemonic string) (*SecureBytes, error) {
	normalized := NormalizeMnemonicInput(mnemonic)

	if _, err := bip39.MnemonicToByteArray(normalized); err != nil {
		return nil, ErrInvalidMnemonic
	}

	seed := bip39.NewSeed(normalized, "")
	defer ZeroBytes(seed)

	return SecureBytesFromSlice(seed), nil
}

// MaxTypoDistance is the maximum Levenshtein distance to consider a suggestion.
const MaxTypoDistance = 2

// TypoInfo describes a word that is not in the BIP39 word list.
type TypoInfo struct {
	// Index is the word position in the mnemonic (0-based).
	Index int
	// Word is the original (possibly misspelled) word.
	Word string
	// Suggestion is the closest BIP39 word, or empty if none found.
	Suggestion string
	// Distance is the Levenshtein distance to the suggestion.
	Distance int
}

// SuggestWord finds the closest BIP39 word to the input.
// Returns empty string if no word is within MaxTypoDistance.
func SuggestWord(input string) string {
	input = strings.ToLower(input)

	minDist := math.MaxInt
	var suggestion string

	for _, word := range bip39.WordList {
		dist := levenshtein.ComputeDistance(input, word)
		if dist < minDist {
			minDist = dist
			suggestion = word
		}
		if dist == 0 {
			return word
		}
	}

	if minDist <= MaxTypoDistance {
		return suggestion
	}
	return ""
}

// DetectTypos scans a mnemonic phrase for words outside the BIP39 word list
// and suggests the nearest replacements.
func DetectTypos(mnemonic string) []TypoInfo {
	if mnemonic == "" {
		return nil
	}

	valid := make(map[string]struct{}, len(bip39.WordList))
	for _, w := range bip39.WordList {
		valid[w] = struct{}{}
	}

	words := strings.Fields(NormalizeMnemonicInput(mnemonic))
	var typos []TypoInfo

	for i, word := range words {
		if _, ok := valid[word]; ok {
			continue
		}
		suggestion := SuggestWord(word)
		distance := 0
		if suggestion != "" {
			distance = levenshtein.ComputeDistance(word, suggestion)
		}
		typos = append(typos, TypoInfo{
			Index:      i,
			Word:       word,
			Suggestion: suggestion,
			Distance:   distance,
		})
	}

	return typos
}

// FormatTypoSuggestions formats typo information into human-readable
// suggestions, one line per misspelled word.
func FormatTypoSuggestions(typos []TypoInfo) string {
	if len(typos) == 0 {
		return ""
	}

	var b strings.Builder
	for i, typo := range typos {
		if i > 0 {
			b.WriteByte('\n')
		}
		// Word position is 1-indexed for human readability
		b.WriteString("word ")
		b.WriteString(strconv.Itoa(typo.Index + 1))
		b.WriteString(": '")
		b.WriteString(typo.Word)
		b.WriteByte('\'')
		if typo.Suggestion != "" {
			b.WriteString(" - did you mean '")
			b.WriteString(typo.Suggestion)
			b.WriteString("'?")
		} else {
			b.WriteString(" is not a valid BIP39 word")
		}
	}
	return b.String()
}
