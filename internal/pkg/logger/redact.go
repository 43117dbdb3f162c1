package logger

import "regexp"

// RedactSecret masks a credential for safe logging.
// "abcd1234efgh" → "ab***"
// Short values (≤4 chars) are fully masked: "abc" → "***"
func RedactSecret(s string) string {
	if len(s) > 4 {
		return s[:2] + "***"
	}
	return "***"
}

var urlKeyParam = regexp.MustCompile(`([?&](?:key|api_key|apikey|token)=)[^&\s"]*`)

// RedactURLKeys masks credential query parameters embedded in a string.
// "https://h/poi?key=abc&countrycode=DE" → "https://h/poi?key=***&countrycode=DE"
func RedactURLKeys(s string) string {
	return urlKeyParam.ReplaceAllString(s, "${1}***")
}
