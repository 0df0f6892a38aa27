package xkblayouts

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
)

type codes struct {
	layout, variant string
}

func ParseLayouts(path string) (*XkbConfigRegistry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	return DecodeLayouts(file)
}

func DecodeLayouts(r io.Reader) (*XkbConfigRegistry, error) {
	registry := &XkbConfigRegistry{}
	err := xml.NewDecoder(r).Decode(registry)
	if err != nil {
		return nil, fmt.Errorf("decode xml: %w", err)
	}

	registry.index()
	return registry, nil
}

func (r *XkbConfigRegistry) index() {
	r.byDescription = make(map[string]codes)
	r.byCode = make(map[codes]string)

	for _, l := range r.LayoutList.Layout {
		layout := codes{layout: l.ConfigItem.Name}
		r.byCode[layout] = l.ConfigItem.Description
		if _, ok := r.byDescription[l.ConfigItem.Description]; !ok {
			r.byDescription[l.ConfigItem.Description] = layout
		}

		for _, v := range l.VariantList.Variant {
			variant := codes{layout: l.ConfigItem.Name, variant: v.ConfigItem.Name}
			r.byCode[variant] = v.ConfigItem.Description
			// the first layout claiming a description wins
			if _, ok := r.byDescription[v.ConfigItem.Description]; !ok {
				r.byDescription[v.ConfigItem.Description] = variant
			}
		}
	}
}

// Len returns the number of layouts in the registry.
func (r *XkbConfigRegistry) Len() int {
	return len(r.LayoutList.Layout)
}

func (r *XkbConfigRegistry) GetLayoutPrettyName(layout, variant string) string {
	return r.byCode[codes{layout: layout, variant: variant}]
}

func (r *XkbConfigRegistry) GetLayoutAndVariantFromPrettyName(prettyName string) (string, string) {
	c, ok := r.byDescription[prettyName]
	if !ok {
		return "", ""
	}
	return c.layout, c.variant
}
