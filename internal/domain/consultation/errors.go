package consultation

import "errors"

var (
	ErrConsultationNotFound    = errors.New("consultation not found")
	ErrInvalidStatusTransition = errors.New("invalid consultation status transition")
	ErrInvalidConsultationType = errors.New("invalid consultation type")
)
