package catalog

import (
	"sort"
	"strings"
)

// Language is one entry of the fixed supported-language set.
type Language struct {
	Code        string
	DisplayName string
	// ProviderTag is the clone-language tag the service expects.
	ProviderTag string
}

// supportedLanguages is the fixed set the TTS model supports.
var supportedLanguages = map[string]Language{
	"pt": {Code: "pt", DisplayName: "Português", ProviderTag: "PT_BR"},
	"en": {Code: "en", DisplayName: "English", ProviderTag: "EN_US"},
	"es": {Code: "es", DisplayName: "Español", ProviderTag: "ES_ES"},
	"fr": {Code: "fr", DisplayName: "Français", ProviderTag: "FR_FR"},
	"de": {Code: "de", DisplayName: "Deutsch", ProviderTag: "DE_DE"},
	"it": {Code: "it", DisplayName: "Italiano", ProviderTag: "IT_IT"},
	"nl": {Code: "nl", DisplayName: "Nederlands", ProviderTag: "NL_NL"},
	"pl": {Code: "pl", DisplayName: "Polski", ProviderTag: "PL_PL"},
	"ru": {Code: "ru", DisplayName: "Русский", ProviderTag: "RU_RU"},
	"zh": {Code: "zh", DisplayName: "中文", ProviderTag: "ZH_CN"},
	"ja": {Code: "ja", DisplayName: "日本語", ProviderTag: "JA_JP"},
	"ko": {Code: "ko", DisplayName: "한국어", ProviderTag: "KO_KR"},
	"hi": {Code: "hi", DisplayName: "हिन्दी", ProviderTag: "HI_IN"},
	"ar": {Code: "ar", DisplayName: "العربية", ProviderTag: "AR_SA"},
	"he": {Code: "he", DisplayName: "עברית", ProviderTag: "HE_IL"},
}

// LookupLanguage resolves a user-facing language code or display name. The
// second return is false for languages outside the supported set.
func LookupLanguage(code string) (Language, bool) {
	needle := strings.ToLower(strings.TrimSpace(code))

	lang, ok := supportedLanguages[needle]
	if ok {
		return lang, true
	}

	for _, candidate := range supportedLanguages {
		if strings.ToLower(candidate.DisplayName) == needle {
			return candidate, true
		}
	}

	return Language{}, false
}

// SupportedLanguages returns the fixed language set ordered by code.
func SupportedLanguages() []Language {
	languages := make([]Language, 0, len(supportedLanguages))
	for _, lang := range supportedLanguages {
		languages = append(languages, lang)
	}

	sort.Slice(languages, func(i, j int) bool {
		return languages[i].Code < languages[j].Code
	})

	return languages
}
