package xkblayouts

import "strings"

// Info describes a keyboard group: the layout and variant parsed from the
// group name, plus the xkb codes when the registry knows them.
type Info struct {
	Layout      string `json:"layout"`
	Variant     string `json:"variant,omitempty"`
	Code        string `json:"code,omitempty"`
	VariantCode string `json:"variant_code,omitempty"`
}

// Parser turns a group name into an Info. It never fails.
type Parser func(name string) Info

// ParseLayoutVariant splits "English (US)" into layout "English" and variant
// "US". Names without a parenthesis are all layout.
func ParseLayoutVariant(name string) Info {
	layout, variant, found := strings.Cut(name, "(")
	if !found {
		return Info{Layout: name}
	}

	return Info{
		Layout:  strings.TrimSpace(layout),
		Variant: strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(variant), ")")),
	}
}

func (i Info) String() string {
	if i.Variant == "" {
		return i.Layout
	}
	return i.Layout + " (" + i.Variant + ")"
}

// Parser returns a parser that fills in layout and variant codes from the
// registry. A nil registry parses names only.
func (r *XkbConfigRegistry) Parser() Parser {
	if r == nil {
		return ParseLayoutVariant
	}

	return func(name string) Info {
		if code, variant := r.GetLayoutAndVariantFromPrettyName(name); code != "" {
			info := ParseLayoutVariant(name)
			info.Code, info.VariantCode = code, variant
			return info
		}

		// some setups name groups by their code
		if pretty := r.GetLayoutPrettyName(name, ""); pretty != "" {
			info := ParseLayoutVariant(pretty)
			info.Code = name
			return info
		}

		return ParseLayoutVariant(name)
	}
}
