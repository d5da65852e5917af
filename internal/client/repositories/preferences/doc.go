// Package preferences persists the ranked list of printers the scheduler
// may choose from, and reads seed lists from YAML.
package preferences
