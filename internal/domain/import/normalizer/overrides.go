package normalizer

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/FACorreiaa/charges-audit/internal/domain/import/model"
)

// LayoutOverride adjusts a profile for scans that drift from the default layout.
//
//	REG114:
//	  wide_row_threshold: 8
//	  min_columns: 6
type LayoutOverride struct {
	WideRowThreshold *int    `yaml:"wide_row_threshold"`
	MinColumns       *int    `yaml:"min_columns"`
	HeaderPattern    *string `yaml:"header_pattern"`
	TruncateOnRepeat *bool   `yaml:"truncate_on_repeat"`
}

// LayoutOverrides is keyed by document type.
type LayoutOverrides map[model.DocumentType]LayoutOverride

// LoadLayoutOverrides reads a YAML overrides file. An empty path yields no overrides.
func LoadLayoutOverrides(path string) (LayoutOverrides, error) {
	if path == "" {
		return LayoutOverrides{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read layout overrides: %w", err)
	}
	return ParseLayoutOverrides(data)
}

// ParseLayoutOverrides decodes overrides from YAML.
func ParseLayoutOverrides(data []byte) (LayoutOverrides, error) {
	out := LayoutOverrides{}
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to parse layout overrides: %w", err)
	}
	for doc, o := range out {
		switch doc {
		case model.DocInvoiceRegister, model.DocApportionmentRegister, model.DocMeterRegister:
		default:
			return nil, fmt.Errorf("layout override for unknown document type %q", doc)
		}
		if o.HeaderPattern != nil {
			if _, err := regexp.Compile(*o.HeaderPattern); err != nil {
				return nil, fmt.Errorf("invalid header pattern for %s: %w", doc, err)
			}
		}
	}
	return out, nil
}

// Apply returns profiles with overrides merged in.
func (o LayoutOverrides) Apply(profiles map[model.DocumentType]Profile) map[model.DocumentType]Profile {
	out := make(map[model.DocumentType]Profile, len(profiles))
	for doc, p := range profiles {
		if ov, ok := o[doc]; ok {
			if ov.WideRowThreshold != nil {
				p.Segment.WideRowThreshold = *ov.WideRowThreshold
			}
			if ov.HeaderPattern != nil {
				p.Segment.HeaderPattern = regexp.MustCompile(*ov.HeaderPattern)
			}
			if ov.TruncateOnRepeat != nil {
				p.Segment.TruncateOnRepeat = *ov.TruncateOnRepeat
			}
		}
		out[doc] = p
	}
	return out
}

// MinColumns returns the column minimum overrides.
func (o LayoutOverrides) MinColumns() map[model.DocumentType]int {
	out := make(map[model.DocumentType]int)
	for doc, ov := range o {
		if ov.MinColumns != nil {
			out[doc] = *ov.MinColumns
		}
	}
	return out
}
