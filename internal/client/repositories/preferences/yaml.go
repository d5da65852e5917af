package preferences

import (
	"fmt"
	"io"

	"github.com/dmitrijs2005/printrelay/internal/client/models"
	"gopkg.in/yaml.v3"
)

// File is the YAML layout of a preference seed file:
//
//	printers:
//	  - name: Office_Laser
//	    mono: true
//	    priority: 10
//	  - name: Front_Desk_Color
//	    color: true
//	    mono: true
//	    priority: 5
type File struct {
	Printers []models.Preference `yaml:"printers"`
}

// ParseYAML decodes a seed file. Entries without a name are rejected, as are
// entries that can print neither color nor monochrome.
func ParseYAML(r io.Reader) ([]models.Preference, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return []models.Preference{}, nil
		}
		return nil, fmt.Errorf("decode preferences: %w", err)
	}

	for i, p := range f.Printers {
		if p.PrinterName == "" {
			return nil, fmt.Errorf("preference %d: missing name", i)
		}
		if !p.Color && !p.Mono {
			return nil, fmt.Errorf("preference %s: must support color or mono", p.PrinterName)
		}
	}

	if f.Printers == nil {
		f.Printers = []models.Preference{}
	}
	return f.Printers, nil
}
