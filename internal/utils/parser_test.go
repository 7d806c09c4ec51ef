package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanLookupTitle(t *testing.T) {
	assert.Equal(t, "Heat", CleanLookupTitle("Heat (1995) [1080p]"))
	assert.Equal(t, "Project Hail Mary", CleanLookupTitle("Project Hail Mary (Unabridged)"))
	assert.Equal(t, "Dune", CleanLookupTitle("Dune: Part Two"))
	assert.Equal(t, "The Daily", CleanLookupTitle("The Daily Episode 12"))
	assert.Equal(t, "", CleanLookupTitle(""))
}

func TestExtractYear(t *testing.T) {
	assert.Equal(t, 1995, ExtractYear("Heat (1995)"))
	assert.Equal(t, 2021, ExtractYear("Dune (Director's Cut, 2021)"))
	assert.Equal(t, 0, ExtractYear("Heat"))
	assert.Equal(t, 0, ExtractYear("Blade Runner 2049"))
}

func TestStripHTML(t *testing.T) {
	assert.Equal(t, "Hello world & more", StripHTML("<p>Hello <b>world</b> &amp; more</p>"))
	assert.Equal(t, "plain text", StripHTML("  plain text "))
}
