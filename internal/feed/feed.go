// Package feed turns the raw bytes of a published schedule into a
// [model.Schedule]. Two formats are understood: Frab-style schedule XML and
// iCalendar.
package feed

import (
	"errors"
	"fmt"
	"time"

	"github.com/poelzi/engelsystem/internal/model"
)

// ErrRead is returned (wrapped) when a payload cannot be parsed into a valid
// schedule.
var ErrRead = errors.New("schedule read error")

// Parser decodes one schedule payload.
type Parser interface {
	Parse(data []byte) (*model.Schedule, error)
}

// ForFormat returns the parser for a source's feed format. tz is used by
// formats whose times carry no zone of their own.
func ForFormat(format string, tz *time.Location) (Parser, error) {
	switch format {
	case "", model.FormatXML:
		return XMLParser{Location: tz}, nil
	case model.FormatICS:
		return ICSParser{Location: tz}, nil
	default:
		return nil, fmt.Errorf("unknown feed format %q", format)
	}
}

func readError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrRead, fmt.Sprintf(format, args...))
}
