// Package models defines records persisted by the print client.
package models

// Preference ranks one physical printer for automatic selection. A printer
// may be able to print color, monochrome or both. Higher Priority wins
// when queue lengths tie.
type Preference struct {
	PrinterName string `yaml:"name" json:"printerName"`
	Color       bool   `yaml:"color" json:"color"`
	Mono        bool   `yaml:"mono" json:"mono"`
	Priority    int    `yaml:"priority" json:"priority"`
}

// Supports reports whether the printer can serve a job that does or does
// not need color.
func (p Preference) Supports(color bool) bool {
	if color {
		return p.Color
	}
	return p.Mono
}

// Credentials identify this print client to the relay server.
type Credentials struct {
	ClientID string `json:"client_id"`
	Token    string `json:"token"`
}
