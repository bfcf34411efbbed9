package dicom

import (
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// defaultRepertoire decodes text when no Specific Character Set element has
// been seen. Windows-1252 is a superset of the standard default repertoire and
// tolerates the 8 bit bytes real-world files put in nominally 7 bit text.
var defaultRepertoire encoding.Encoding = charmap.Windows1252

// encodingLabels maps Specific Character Set (0008,0005) defined terms to the
// WHATWG charset labels golang.org/x/net/html/charset resolves. Code extension
// techniques (escape-switched multi-byte sets) are approximated by the
// dominant encoding of the term.
var encodingLabels = map[string]string{
	"ISO_IR 100":      "iso-ir-100",
	"ISO_IR 101":      "iso-ir-101",
	"ISO_IR 109":      "iso-ir-109",
	"ISO_IR 110":      "iso-ir-110",
	"ISO_IR 144":      "iso-ir-144",
	"ISO_IR 127":      "iso-ir-127",
	"ISO_IR 126":      "iso-ir-126",
	"ISO_IR 138":      "iso-ir-138",
	"ISO_IR 148":      "iso-ir-148",
	"ISO_IR 13":       "shift-jis",
	"ISO_IR 166":      "tis-620",
	"ISO_IR 192":      "utf-8",
	"GB18030":         "gb18030",
	"GBK":             "gbk",
	"ISO 2022 IR 6":   "us-ascii",
	"ISO 2022 IR 100": "iso-ir-100",
	"ISO 2022 IR 101": "iso-ir-101",
	"ISO 2022 IR 109": "iso-ir-109",
	"ISO 2022 IR 110": "iso-ir-110",
	"ISO 2022 IR 144": "iso-ir-144",
	"ISO 2022 IR 127": "iso-ir-127",
	"ISO 2022 IR 126": "iso-ir-126",
	"ISO 2022 IR 138": "iso-ir-138",
	"ISO 2022 IR 148": "iso-ir-148",
	"ISO 2022 IR 13":  "shift-jis",
	"ISO 2022 IR 166": "tis-620",
	"ISO 2022 IR 87":  "iso-2022-jp",
	"ISO 2022 IR 159": "iso-2022-jp",
	"ISO 2022 IR 149": "iso-ir-149",
}

// encodingForTerms resolves the decoder for a Specific Character Set value.
// Multi-valued terms select by the first recognized value. Unknown terms fall
// back to the default repertoire so decoding never fails outright.
func encodingForTerms(terms []string) encoding.Encoding {
	for _, term := range terms {
		if term == "" || term == "ISO_IR 6" {
			continue
		}
		label, ok := encodingLabels[term]
		if !ok {
			continue
		}
		if enc, _ := charset.Lookup(label); enc != nil {
			return enc
		}
	}
	return defaultRepertoire
}

// decodeText converts raw element bytes to a UTF-8 string using the active
// repertoire.
func decodeText(raw []byte, enc encoding.Encoding) (string, error) {
	if enc == nil {
		enc = defaultRepertoire
	}
	decoded, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}
