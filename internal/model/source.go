package model

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Feed formats understood by the importer.
const (
	FormatXML = "xml"
	FormatICS = "ics"
)

// Source is the configuration of one remote schedule feed and how its events
// are turned into shifts.
type Source struct {
	ID     int64
	Name   string `validate:"required,max=255"`
	URL    string `validate:"required,url"`
	Format string `validate:"omitempty,oneof=xml ics"`

	// ShiftTypeID is the shift type assigned to every imported shift.
	ShiftTypeID int64 `validate:"required,gt=0"`

	// NeededFromShiftType selects whether required skills for imported shifts
	// are taken from the shift type (true) or from the room (false).
	NeededFromShiftType bool

	// MinutesBefore is subtracted from every event start, MinutesAfter is added
	// to every event end.
	MinutesBefore int `validate:"gte=0"`
	MinutesAfter  int `validate:"gte=0"`

	// ActiveRooms lists the location names whose events are imported.
	ActiveRooms []string `validate:"dive,required"`

	CreatedAt time.Time
	// UpdatedAt is stamped on every successful import and configuration edit.
	UpdatedAt time.Time
}

var validate = validator.New()

// Validate checks the source settings. A missing format defaults to XML.
func (s *Source) Validate() error {
	if s.Format == "" {
		s.Format = FormatXML
	}
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("invalid schedule source: %w", err)
	}
	return nil
}

// Lead returns the lead buffer as a duration.
func (s *Source) Lead() time.Duration {
	return time.Duration(s.MinutesBefore) * time.Minute
}

// Trail returns the trail buffer as a duration.
func (s *Source) Trail() time.Duration {
	return time.Duration(s.MinutesAfter) * time.Minute
}

// IsRoomActive reports whether events in the named room are imported.
func (s *Source) IsRoomActive(name string) bool {
	for _, r := range s.ActiveRooms {
		if r == name {
			return true
		}
	}
	return false
}
