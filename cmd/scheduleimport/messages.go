package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/poelzi/engelsystem/internal/importer"
)

// Message keys shown to the operator.
const (
	msgImportSuccess      = "schedule.import.success"
	msgEditSuccess        = "schedule.edit.success"
	msgDeleteSuccess      = "schedule.delete.success"
	msgInvalidShiftType   = "schedule.import.invalid-shift-type"
	msgRequestError       = "schedule.import.request-error"
	msgReadError          = "schedule.import.read-error"
	msgNotFound           = "schedule.import.not-found"
	msgUnknownLocation    = "schedule.import.unknown-location"
	msgInvalidSettings    = "schedule.import.invalid-settings"
	msgAborted            = "schedule.import.aborted"
	msgError              = "schedule.import.error"
	msgNoChanges          = "schedule.import.no-changes"
	msgRoomsAdd           = "schedule.import.rooms.add"
	msgShiftsAdd          = "schedule.import.shifts.add"
	msgShiftsUpdate       = "schedule.import.shifts.update"
	msgShiftsDelete       = "schedule.import.shifts.delete"
	msgReasonRemoved      = "schedule.import.reason.removed"
	msgReasonRoomInactive = "schedule.import.reason.room-inactive"
)

var catalogue = map[string]map[string]string{
	"en": {
		msgImportSuccess:      "Schedule %q imported: %d created, %d updated, %d deleted.",
		msgEditSuccess:        "Schedule %q saved.",
		msgDeleteSuccess:      "Schedule %q deleted together with %d shifts.",
		msgInvalidShiftType:   "The selected shift type does not exist.",
		msgRequestError:       "The schedule could not be downloaded.",
		msgReadError:          "The schedule could not be read.",
		msgNotFound:           "The schedule does not exist.",
		msgUnknownLocation:    "An active room does not exist as a location.",
		msgInvalidSettings:    "The schedule settings are invalid.",
		msgAborted:            "The import was aborted.",
		msgError:              "The schedule import failed.",
		msgNoChanges:          "Nothing to change.",
		msgRoomsAdd:           "New rooms",
		msgShiftsAdd:          "Shifts to create",
		msgShiftsUpdate:       "Shifts to update",
		msgShiftsDelete:       "Shifts to delete",
		msgReasonRemoved:      "removed from schedule",
		msgReasonRoomInactive: "room not active",
	},
	"de": {
		msgImportSuccess:      "Fahrplan %q importiert: %d erstellt, %d aktualisiert, %d gelöscht.",
		msgEditSuccess:        "Fahrplan %q gespeichert.",
		msgDeleteSuccess:      "Fahrplan %q mit %d Schichten gelöscht.",
		msgInvalidShiftType:   "Der ausgewählte Schichttyp existiert nicht.",
		msgRequestError:       "Der Fahrplan konnte nicht heruntergeladen werden.",
		msgReadError:          "Der Fahrplan konnte nicht gelesen werden.",
		msgNotFound:           "Der Fahrplan existiert nicht.",
		msgUnknownLocation:    "Ein aktiver Raum existiert nicht als Ort.",
		msgInvalidSettings:    "Die Fahrplan-Einstellungen sind ungültig.",
		msgAborted:            "Der Import wurde abgebrochen.",
		msgError:              "Der Fahrplan-Import ist fehlgeschlagen.",
		msgNoChanges:          "Keine Änderungen.",
		msgRoomsAdd:           "Neue Räume",
		msgShiftsAdd:          "Neue Schichten",
		msgShiftsUpdate:       "Geänderte Schichten",
		msgShiftsDelete:       "Zu löschende Schichten",
		msgReasonRemoved:      "nicht mehr im Fahrplan",
		msgReasonRoomInactive: "Raum nicht aktiv",
	},
}

// translate formats the message for key in lang, falling back to English and
// then to the key itself.
func translate(lang, key string, args ...any) string {
	format, ok := catalogue[lang][key]
	if !ok {
		format, ok = catalogue["en"][key]
	}
	if !ok {
		format = key
	}
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}

// errorKey maps an error to the message key of its failure kind.
func errorKey(err error) string {
	var invalid validator.ValidationErrors
	switch {
	case errors.Is(err, importer.ErrInvalidShiftType):
		return msgInvalidShiftType
	case errors.Is(err, importer.ErrRequest):
		return msgRequestError
	case errors.Is(err, importer.ErrRead):
		return msgReadError
	case errors.Is(err, importer.ErrSourceNotFound):
		return msgNotFound
	case errors.Is(err, importer.ErrUnknownLocation):
		return msgUnknownLocation
	case errors.As(err, &invalid):
		return msgInvalidSettings
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return msgAborted
	default:
		return msgError
	}
}

// describeError renders err as one localized line. The underlying error
// follows it when it carries detail the message does not.
func describeError(lang string, err error) string {
	msg := translate(lang, errorKey(err))
	if errorKey(err) == msgError || verbose {
		msg += "\n  " + err.Error()
	}
	return msg
}
