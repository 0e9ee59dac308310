package pipelines

import (
	"go.uber.org/zap"

	"github.com/AndrewMead10/mass-gov-pdf-accessibility/internal/naming"
)

// NewDefaultRegistry registers the built-in plugins: heading presence, then filename.
func NewDefaultRegistry(namer naming.Suggester, logger *zap.Logger) *Registry {
	r, err := NewRegistry(
		NewH1Presence(nil),
		NewFilenameFromHeading(namer, WithFilenameLogger(logger)),
	)
	if err != nil {
		// Built-in slugs are constants; a collision is a programming error.
		panic(err)
	}
	return r
}
