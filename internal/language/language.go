// Package language holds the closed set of translation targets offered by the
// page selector.
package language

// Language pairs a target code with its display name.
type Language struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

var languages = []Language{
	{Code: "en", Name: "English"},
	{Code: "es", Name: "Spanish"},
	{Code: "fr", Name: "French"},
	{Code: "de", Name: "German"},
	{Code: "it", Name: "Italian"},
	{Code: "ja", Name: "Japanese"},
	{Code: "ko", Name: "Korean"},
	{Code: "zh", Name: "Chinese"},
}

const defaultCode = "es"

// All returns the selector entries in display order.
func All() []Language {
	return append([]Language(nil), languages...)
}

// Lookup finds a language by code.
func Lookup(code string) (Language, bool) {
	for _, lang := range languages {
		if lang.Code == code {
			return lang, true
		}
	}
	return Language{}, false
}

func Valid(code string) bool {
	_, ok := Lookup(code)
	return ok
}

// Default is the target selected before the user picks one.
func Default() Language {
	lang, _ := Lookup(defaultCode)
	return lang
}

// DisplayName returns the name for code, or the code itself when unknown.
func DisplayName(code string) string {
	if lang, ok := Lookup(code); ok {
		return lang.Name
	}
	return code
}
