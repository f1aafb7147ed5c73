package sourcekit

import (
	"strings"
	"unicode"

	"github.com/mozillazg/go-pinyin"
)

// First romanized letter of each hiragana from U+3041 to U+3096, Hepburn.
const kanaInitials = "aaiiuueeoo" + // ぁ-お
	"kgkgkgkgkg" + // か-ご
	"szsjszszsz" + // さ-ぞ
	"tdcjttztdtd" + // た-ど
	"nnnnn" + // な-の
	"hbphbpfbphbphbp" + // は-ぽ
	"mmmmm" + // ま-も
	"yyyyyy" + // ゃ-よ
	"rrrrr" + // ら-ろ
	"wwieon" + // ゎ-ん
	"vkk" // ゔ-ゖ

// Romanized initial of each Hangul leading consonant; '-' marks the silent
// ㅇ, where the vowel decides.
const (
	hangulLeads  = "gkndtrmbpss-jjcktph"
	hangulVowels = "aayyeeyyowwoyuwwwyeui"
)

var pinyinArgs = func() pinyin.Args {
	a := pinyin.NewArgs()
	a.Style = pinyin.FirstLetter
	return a
}()

// CJKInitials replaces every Chinese, Japanese kana or Hangul character in
// text with the upper-case first letter of its romanization. Other
// characters are kept. sep is placed between all characters.
func CJKInitials(text, sep string) string {
	if text == "" {
		return ""
	}
	var b strings.Builder
	first := true
	for _, r := range text {
		if !first {
			b.WriteString(sep)
		}
		first = false
		b.WriteString(initial(r))
	}
	return b.String()
}

func initial(r rune) string {
	var c byte
	switch {
	case r >= 0x4E00 && r <= 0x9FFF:
		if py := pinyin.SinglePinyin(r, pinyinArgs); len(py) > 0 && py[0] != "" {
			c = py[0][0]
		}
	case r >= 0x3041 && r <= 0x3096:
		c = kanaInitials[r-0x3041]
	case r >= 0x30A1 && r <= 0x30F6:
		c = kanaInitials[r-0x30A1]
	case r >= 0x30F7 && r <= 0x30FA:
		c = 'v'
	case r >= 0xAC00 && r <= 0xD7A3:
		idx := r - 0xAC00
		c = hangulLeads[idx/588]
		if c == '-' {
			c = hangulVowels[(idx%588)/28]
		}
	}
	if c == 0 {
		return string(r)
	}
	return string(unicode.ToUpper(rune(c)))
}
