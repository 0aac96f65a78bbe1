package orchestrator

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// letterFields enumerates the required string fields of the letter schema
// (§4.6.1), excluding references which is a []string.
var letterFields = []string{
	"mp_name", "mp_address_1", "mp_address_2", "mp_city", "mp_county", "mp_postcode",
	"date", "subject_line_html", "letter_content",
	"sender_name", "sender_address_1", "sender_address_2", "sender_address_3",
	"sender_city", "sender_county", "sender_postcode", "sender_phone",
}

// extractPreviewField scans buf for the last occurrence of `"<field>":"` and
// decodes the JSON string literal that follows, stopping at the first
// unescaped closing quote. It tolerates a value still being streamed in
// (no closing quote yet) by decoding as much as is available.
func extractPreviewField(buf, field string) (string, bool) {
	needle := fmt.Sprintf("%q:\"", field)
	idx := strings.LastIndex(buf, needle)
	if idx < 0 {
		return "", false
	}
	start := idx + len(needle)
	return decodeJSONStringPrefix(buf[start:]), true
}

// decodeJSONStringPrefix decodes JSON string escapes from the start of s
// until an unescaped '"' or the end of the available buffer.
func decodeJSONStringPrefix(s string) string {
	var out strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '"' {
			break
		}
		if c != '\\' {
			out.WriteByte(c)
			continue
		}
		if i+1 >= len(s) {
			break // escape sequence not fully buffered yet
		}
		i++
		switch s[i] {
		case 'n':
			out.WriteByte('\n')
		case 'r':
			out.WriteByte('\r')
		case 't':
			out.WriteByte('\t')
		case 'b':
			out.WriteByte('\b')
		case 'f':
			out.WriteByte('\f')
		case '\\':
			out.WriteByte('\\')
		case '"':
			out.WriteByte('"')
		case '/':
			out.WriteByte('/')
		case 'u':
			if i+4 < len(s) {
				if n, err := strconv.ParseUint(s[i+1:i+5], 16, 32); err == nil {
					out.WriteRune(rune(n))
					i += 4
					continue
				}
			}
			// Not enough bytes buffered yet for the escape; stop here.
			i = len(s)
		default:
			out.WriteByte(s[i])
		}
	}
	return out.String()
}

// LetterPreview is the live preview extracted from a growing raw JSON buffer
// while the letter streams (§4.6.1).
type LetterPreview struct {
	LetterContent    string
	SubjectLineHTML  string
}

// ExtractLetterPreview scans the accumulated raw buffer for the latest
// letter_content / subject_line_html values.
func ExtractLetterPreview(buf string) LetterPreview {
	content, _ := extractPreviewField(buf, "letter_content")
	subject, _ := extractPreviewField(buf, "subject_line_html")
	return LetterPreview{LetterContent: content, SubjectLineHTML: subject}
}

// RenderLetterPreviewHTML wraps a live preview in the addressed-letter HTML
// template used for letter_delta payloads.
func RenderLetterPreviewHTML(preview LetterPreview, profile *Profile) string {
	var b strings.Builder
	b.WriteString(`<div class="letter-preview">`)
	if profile != nil {
		fmt.Fprintf(&b, `<div class="letter-sender">%s<br>%s<br>%s, %s %s</div>`,
			htmlEscape(profile.SenderName), htmlEscape(profile.SenderAddress1),
			htmlEscape(profile.SenderCity), htmlEscape(profile.SenderCounty), htmlEscape(profile.SenderPostcode))
		fmt.Fprintf(&b, `<div class="letter-recipient">%s<br>%s<br>%s, %s %s</div>`,
			htmlEscape(profile.MPName), htmlEscape(profile.MPAddress1),
			htmlEscape(profile.MPCity), htmlEscape(profile.MPCounty), htmlEscape(profile.MPPostcode))
	}
	if preview.SubjectLineHTML != "" {
		fmt.Fprintf(&b, `<div class="letter-subject">%s</div>`, preview.SubjectLineHTML)
	}
	fmt.Fprintf(&b, `<div class="letter-body">%s</div>`, htmlEscape(preview.LetterContent))
	b.WriteString(`</div>`)
	return b.String()
}

func htmlEscape(s string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
	)
	return replacer.Replace(s)
}

// ParsedLetter is the result of fully parsing + normalizing a terminal
// letter JSON document.
type ParsedLetter struct {
	Fields     map[string]string
	References []string
}

// ParseLetterJSON JSON-parses the complete accumulated buffer and applies
// typography normalization to every string field (§4.6.1). It returns
// ErrOutputParseFailed on any failure, since the contract is strict: no
// tolerance for trailing non-JSON chatter (open question (b), resolved
// strict per the governing design notes).
func ParseLetterJSON(buf string) (ParsedLetter, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(buf), &raw); err != nil {
		return ParsedLetter{}, fmt.Errorf("%w: %v", ErrOutputParseFailed, err)
	}

	out := ParsedLetter{Fields: make(map[string]string, len(letterFields))}
	for _, field := range letterFields {
		v, ok := raw[field]
		if !ok {
			return ParsedLetter{}, fmt.Errorf("%w: missing field %q", ErrOutputParseFailed, field)
		}
		s, ok := v.(string)
		if !ok {
			return ParsedLetter{}, fmt.Errorf("%w: field %q is not a string", ErrOutputParseFailed, field)
		}
		out.Fields[field] = NormalizeTypography(s)
	}

	if refsAny, ok := raw["references"]; ok {
		if arr, ok := refsAny.([]any); ok {
			for _, r := range arr {
				if s, ok := r.(string); ok {
					out.References = append(out.References, NormalizeTypography(s))
				}
			}
		}
	}
	return out, nil
}

// typographyReplacer collapses the Unicode punctuation/whitespace variants a
// model tends to emit down to ASCII equivalents (§4.6.1).
var typographyReplacer = strings.NewReplacer(
	"\u2018", "'", "\u2019", "'", "\u201a", "'", "\u201b", "'",
	"\u201c", "\"", "\u201d", "\"", "\u201e", "\"", "\u201f", "\"",
	"\u2013", "-", "\u2014", "-", "\u2212", "-",
	"\u2022", "*", "\u25cf", "*", "\u25e6", "*",
	"\u2026", "...",
	"\u00a0", " ", "\u2007", " ", "\u202f", " ",
	"\u200b", "", "\u200c", "", "\u200d", "", "\ufeff", "",
)

// NormalizeTypography applies the fixed typography normalization rules to a
// single string field.
func NormalizeTypography(s string) string {
	return typographyReplacer.Replace(s)
}

// MergeProfile overwrites MP/sender context fields with the authoritative
// ProfileLookup values; only letter_content, subject_line_html, and
// references survive from the model (§4.6.1).
func MergeProfile(parsed ParsedLetter, profile *Profile) map[string]any {
	out := map[string]any{
		"letter_content":     parsed.Fields["letter_content"],
		"subject_line_html":  parsed.Fields["subject_line_html"],
		"references":         parsed.References,
	}
	if profile == nil {
		for _, f := range letterFields {
			if f == "letter_content" || f == "subject_line_html" {
				continue
			}
			out[f] = parsed.Fields[f]
		}
		return out
	}
	out["mp_name"] = profile.MPName
	out["mp_address_1"] = profile.MPAddress1
	out["mp_address_2"] = profile.MPAddress2
	out["mp_city"] = profile.MPCity
	out["mp_county"] = profile.MPCounty
	out["mp_postcode"] = NormalizePostcode(profile.MPPostcode)
	out["date"] = profile.Today
	out["sender_name"] = profile.SenderName
	out["sender_address_1"] = profile.SenderAddress1
	out["sender_address_2"] = profile.SenderAddress2
	out["sender_address_3"] = profile.SenderAddress3
	out["sender_city"] = profile.SenderCity
	out["sender_county"] = profile.SenderCounty
	out["sender_postcode"] = NormalizePostcode(profile.SenderPostcode)
	out["sender_phone"] = profile.SenderPhone
	return out
}

// NormalizePostcode upper-cases and re-spaces a UK postcode into the
// canonical "OUTWARD INWARD" form (e.g. "sw1a1aa" -> "SW1A 1AA"); anything
// that doesn't look like a postcode is returned unchanged.
func NormalizePostcode(raw string) string {
	trimmed := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(raw), " ", ""))
	if len(trimmed) < 5 || len(trimmed) > 7 {
		return raw
	}
	inward := trimmed[len(trimmed)-3:]
	outward := trimmed[:len(trimmed)-3]
	if !isDigit(inward[0]) || !isAlpha(inward[1]) || !isAlpha(inward[2]) {
		return raw
	}
	return outward + " " + inward
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }
func isAlpha(b byte) bool { return b >= 'A' && b <= 'Z' }

// RenderLetterHTML renders the final, fully-merged letter document to HTML.
func RenderLetterHTML(fields map[string]any) string {
	var b strings.Builder
	b.WriteString(`<div class="letter">`)
	fmt.Fprintf(&b, `<div class="letter-sender">%s<br>%s<br>%s<br>%s, %s %s<br>%s</div>`,
		htmlEscape(fmt.Sprint(fields["sender_name"])), htmlEscape(fmt.Sprint(fields["sender_address_1"])),
		htmlEscape(fmt.Sprint(fields["sender_address_2"])), htmlEscape(fmt.Sprint(fields["sender_city"])),
		htmlEscape(fmt.Sprint(fields["sender_county"])), htmlEscape(fmt.Sprint(fields["sender_postcode"])),
		htmlEscape(fmt.Sprint(fields["sender_phone"])))
	fmt.Fprintf(&b, `<div class="letter-date">%s</div>`, htmlEscape(fmt.Sprint(fields["date"])))
	fmt.Fprintf(&b, `<div class="letter-recipient">%s<br>%s<br>%s<br>%s, %s %s</div>`,
		htmlEscape(fmt.Sprint(fields["mp_name"])), htmlEscape(fmt.Sprint(fields["mp_address_1"])),
		htmlEscape(fmt.Sprint(fields["mp_address_2"])), htmlEscape(fmt.Sprint(fields["mp_city"])),
		htmlEscape(fmt.Sprint(fields["mp_county"])), htmlEscape(fmt.Sprint(fields["mp_postcode"])))
	fmt.Fprintf(&b, `<div class="letter-subject">%v</div>`, fields["subject_line_html"])
	fmt.Fprintf(&b, `<div class="letter-body">%s</div>`, htmlEscape(fmt.Sprint(fields["letter_content"])))
	b.WriteString(`</div>`)
	return b.String()
}
