package snapshot

import "fmt"

// Code classifies an import failure.
type Code string

const (
	CodeUnreadable  Code = "unreadable"
	CodeMalformed   Code = "malformed"
	CodeFormat      Code = "format"
	CodeNoData      Code = "no_data"
	CodeNotEmbedded Code = "not_embedded"
	CodeTampered    Code = "tampered"
	CodeInvalidTree Code = "invalid_tree"
)

var messages = map[Code]string{
	CodeUnreadable:  "Het bestand kon niet worden gelezen.",
	CodeMalformed:   "De DPIA-gegevens zijn ongeldig.",
	CodeFormat:      "Het bestand heeft niet het verwachte formaat voor een DPIA-export.",
	CodeNoData:      "Het bestand bevat geen geldige DPIA- of pre-scan-gegevens.",
	CodeNotEmbedded: "Dit bestand bevat geen DPIA-gegevens.",
	CodeTampered:    "Dit bestand is aangepast nadat het is geëxporteerd. De gegevens kunnen niet betrouwbaar worden ingelezen.",
	CodeInvalidTree: "De opgeslagen vragenlijst past niet bij deze versie van het formulier.",
}

// ValidationError rejects an import. Message is shown to the user as is.
type ValidationError struct {
	Code    Code
	Message string
	Err     error
}

// NewValidationError wraps err as an import failure of the given code.
func NewValidationError(code Code, err error) *ValidationError {
	return &ValidationError{Code: code, Message: messages[code], Err: err}
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error { return e.Err }
