// Copyright 2025 The ML-Orchestrator Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package translator

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxInputLength is the longest request text accepted, in characters.
const MaxInputLength = 10000

// InputError reports a rejected request text.
type InputError struct {
	Reason string
}

func (e *InputError) Error() string { return "invalid input: " + e.Reason }

// rejectedPatterns fail the request outright.
var rejectedPatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"script tag", regexp.MustCompile(`(?i)<\s*script`)},
	{"javascript url", regexp.MustCompile(`(?i)javascript\s*:`)},
}

// strippedPatterns are removed from otherwise acceptable text: instructions
// aimed at the model and code-execution fragments.
var strippedPatterns = regexp.MustCompile(`(?is)` + strings.Join([]string{
	`<system>.*?</system>`,
	`ignore\s+all\s+instructions`,
	`ignore\s+previous\s+instructions`,
	`disregard\s+all\s+previous\s+instructions`,
	`data:text/html`,
	`\beval\s*\(`,
	`\bexec\s*\(`,
	`__import__`,
	`\bsubprocess\.`,
	`\bos\.`,
	`\bsys\.`,
}, "|"))

var markupTag = regexp.MustCompile(`</?[A-Za-z][^>]*>`)

var whitespaceRun = regexp.MustCompile(`\s+`)

// tokenEscaper backslash-escapes template, comment and shell tokens. Two
// character tokens are listed first so they win over their single
// characters.
var tokenEscaper = func() *strings.Replacer {
	var pairs []string
	for _, tok := range []string{
		"{{", "}}", "{%", "%}", "<%", "%>", "<!", "-->", "/*", "*/", "//",
		";", "|", "&", "$", "`",
	} {
		pairs = append(pairs, tok, `\`+tok)
	}
	return strings.NewReplacer(pairs...)
}()

// Sanitize cleans request text before it reaches a prompt or the rules.
// Script content is rejected. Model-directed instructions, code-execution
// fragments and markup tags are removed, risky tokens are escaped and
// whitespace runs collapse to one space. Text that is empty once cleaned,
// or longer than MaxInputLength, is rejected.
func Sanitize(input string) (string, error) {
	if !utf8.ValidString(input) {
		return "", &InputError{Reason: "input is not valid UTF-8"}
	}

	cleaned := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, input)

	for _, p := range rejectedPatterns {
		if p.re.MatchString(cleaned) {
			return "", &InputError{Reason: "input contains a disallowed pattern (" + p.name + ")"}
		}
	}

	cleaned = strippedPatterns.ReplaceAllString(cleaned, "")
	cleaned = markupTag.ReplaceAllString(cleaned, "")
	cleaned = strings.TrimSpace(whitespaceRun.ReplaceAllString(cleaned, " "))

	if cleaned == "" {
		return "", &InputError{Reason: "input is empty"}
	}
	if n := utf8.RuneCountInString(cleaned); n > MaxInputLength {
		return "", &InputError{Reason: fmt.Sprintf("input is %d characters, maximum is %d", n, MaxInputLength)}
	}
	return tokenEscaper.Replace(cleaned), nil
}
