package valuation

import (
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

const (
	msgDefaultReference = "Standard Price changed"
	msgLineName         = "Standard Price changed from %s to %s"
)

var postingCatalog = mustCatalog(map[language.Tag]map[string]string{
	language.English: {
		msgDefaultReference: msgDefaultReference,
		msgLineName:         msgLineName,
	},
	language.Indonesian: {
		msgDefaultReference: "Harga standar diubah",
		msgLineName:         "Harga standar diubah dari %s menjadi %s",
	},
})

func mustCatalog(entries map[language.Tag]map[string]string) *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for tag, msgs := range entries {
		for key, msg := range msgs {
			if err := b.SetString(tag, key, msg); err != nil {
				panic(fmt.Sprintf("valuation: register message %q for %s: %v", key, tag, err))
			}
		}
	}
	return b
}

// Messages renders user-facing posting labels in one language.
type Messages struct {
	printer *message.Printer
}

// NewMessages builds Messages for a BCP 47 tag, falling back to English.
func NewMessages(lang string) Messages {
	tag, err := language.Parse(lang)
	if err != nil {
		tag = language.English
	}
	matched, _, _ := postingCatalog.Matcher().Match(tag)
	base, _ := matched.Base()
	return Messages{printer: message.NewPrinter(language.Make(base.String()), message.Catalog(postingCatalog))}
}

// DefaultReference is the entry reference used when the caller gives none.
func (m Messages) DefaultReference() string {
	return m.p().Sprintf(msgDefaultReference)
}

// LineName describes a price change on an entry line.
func (m Messages) LineName(oldPrice, newPrice decimal.Decimal) string {
	return m.p().Sprintf(msgLineName, oldPrice.String(), newPrice.String())
}

func (m Messages) p() *message.Printer {
	if m.printer == nil {
		return message.NewPrinter(language.English, message.Catalog(postingCatalog))
	}
	return m.printer
}
