package printers

import (
	"context"
	"errors"
	"testing"

	"github.com/dmitrijs2005/printrelay/internal/printsettings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLPArgs(t *testing.T) {
	tests := []struct {
		name string
		s    printsettings.Settings
		want []string
	}{
		{
			name: "defaults",
			s:    printsettings.Settings{},
			want: []string{"-d", "Office", "-n", "1", "-o", "print-color-mode=monochrome", "/spool/j.pdf"},
		},
		{
			name: "color copies",
			s:    printsettings.Settings{Color: printsettings.ColorColor, Copies: 3, Orientation: printsettings.Landscape, PagesPerSheet: 4},
			want: []string{"-d", "Office", "-n", "3", "-o", "print-color-mode=color", "/spool/j.pdf"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, lpArgs("Office", "/spool/j.pdf", tt.s))
		})
	}
}

func TestLPDispatcher_Print(t *testing.T) {
	var gotName string
	var gotArgs []string

	d := NewLPDispatcher("")
	d.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		gotName, gotArgs = name, args
		return []byte("request id is Office-1 (1 file(s))"), nil
	}

	require.NoError(t, d.Print(context.Background(), "Office", "/spool/j.pdf", printsettings.Default()))
	assert.Equal(t, "lp", gotName)
	assert.Equal(t, "/spool/j.pdf", gotArgs[len(gotArgs)-1])
}

func TestLPDispatcher_PrintError(t *testing.T) {
	d := NewLPDispatcher("lp")
	d.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return []byte("lp: The printer or class does not exist."), errors.New("exit status 1")
	}

	err := d.Print(context.Background(), "Nope", "/spool/j.pdf", printsettings.Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}
