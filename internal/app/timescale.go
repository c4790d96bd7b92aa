package app

import (
	"tradesim-engine/internal/engine"
	"tradesim-engine/internal/timescale"
)

// archive keeps a disabled writer from reaching the engine as a non-nil
// interface holding a nil pointer.
func archive(writer *timescale.Writer) engine.Archive {
	if writer == nil {
		return nil
	}
	return writer
}
