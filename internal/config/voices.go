package config

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Voice holds the runtime metadata needed to drive a Kokoro voice.
type Voice struct {
	SpeakerID  int
	EspeakCode string
	Language   string
}

// Voices maps voice name to metadata for the Kokoro multi-lang v1.0 model.
// Prefix convention: af/am American, bf/bm British, ef/em Spanish, ff French,
// jf/jm Japanese.
var Voices = map[string]Voice{
	"af_bella":    {SpeakerID: 2, EspeakCode: "en-us", Language: "American English"},
	"af_heart":    {SpeakerID: 3, EspeakCode: "en-us", Language: "American English"},
	"af_nicole":   {SpeakerID: 6, EspeakCode: "en-us", Language: "American English"},
	"af_sarah":    {SpeakerID: 9, EspeakCode: "en-us", Language: "American English"},
	"af_sky":      {SpeakerID: 10, EspeakCode: "en-us", Language: "American English"},
	"am_adam":     {SpeakerID: 11, EspeakCode: "en-us", Language: "American English"},
	"am_michael":  {SpeakerID: 16, EspeakCode: "en-us", Language: "American English"},
	"bf_alice":    {SpeakerID: 20, EspeakCode: "en-gb", Language: "British English"},
	"bf_emma":     {SpeakerID: 21, EspeakCode: "en-gb", Language: "British English"},
	"bf_isabella": {SpeakerID: 22, EspeakCode: "en-gb", Language: "British English"},
	"bm_daniel":   {SpeakerID: 24, EspeakCode: "en-gb", Language: "British English"},
	"bm_george":   {SpeakerID: 26, EspeakCode: "en-gb", Language: "British English"},
	"ef_dora":     {SpeakerID: 28, EspeakCode: "es", Language: "Spanish"},
	"em_alex":     {SpeakerID: 29, EspeakCode: "es", Language: "Spanish"},
	"ff_siwis":    {SpeakerID: 31, EspeakCode: "fr", Language: "French"},
	"jf_alpha":    {SpeakerID: 37, EspeakCode: "ja", Language: "Japanese"},
}

// GetVoice returns metadata for a voice name, or nil if unknown.
func GetVoice(name string) *Voice {
	if v, ok := Voices[strings.ToLower(name)]; ok {
		return &v
	}
	return nil
}

// PrintVoices lists the supported voices grouped by language.
func PrintVoices() {
	names := make([]string, 0, len(Voices))
	for n := range Voices {
		names = append(names, n)
	}
	sort.Strings(names)

	fmt.Println("Available TTS voices:")
	for _, n := range names {
		v := Voices[n]
		fmt.Printf("  %-14s speaker=%-3d %s\n", n, v.SpeakerID, v.Language)
	}
}

// lexiconForVoice returns the lexicon file(s) for English and Chinese voices.
// Other languages phonemize through espeak-ng and return no lexicon.
func lexiconForVoice(ttsDir, voiceName string) string {
	v := GetVoice(voiceName)
	if v == nil {
		return filepath.Join(ttsDir, "lexicon-us-en.txt")
	}
	switch v.EspeakCode {
	case "en-us":
		return filepath.Join(ttsDir, "lexicon-us-en.txt")
	case "en-gb":
		return filepath.Join(ttsDir, "lexicon-gb-en.txt")
	default:
		return ""
	}
}

// languageForVoice returns the espeak-ng language code for voices that do not
// ship a lexicon; English voices return empty (lexicon path is used instead).
func languageForVoice(voiceName string) string {
	v := GetVoice(voiceName)
	if v == nil {
		return ""
	}
	if v.EspeakCode == "en-us" || v.EspeakCode == "en-gb" {
		return ""
	}
	return v.EspeakCode
}
