package api

import (
	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/clinic"
)

type WindowRequest struct {
	Start string `json:"start" validate:"required"`
	End   string `json:"end" validate:"required"`
}

type SubmitAvailabilityRequest struct {
	Date  string          `json:"date" validate:"required"`
	Slots []WindowRequest `json:"slots" validate:"required,min=1,dive"`
}

type SubmitAvailabilityResponse struct {
	DoctorID uuid.UUID         `json:"doctorId"`
	Date     string            `json:"date"`
	Slots    []clinic.OpenSlot `json:"slots"`
}

type BookSlotRequest struct {
	SlotID string `json:"slotId" validate:"required,uuid"`
}

type BookSlotResponse struct {
	SlotID    uuid.UUID  `json:"slotId"`
	DoctorID  *uuid.UUID `json:"doctorId,omitempty"`
	PatientID uuid.UUID  `json:"patientId"`
	Date      string     `json:"date,omitempty"`
	Start     string     `json:"start,omitempty"`
	End       string     `json:"end,omitempty"`
	Message   string     `json:"message"`
}

type DoctorProfileResponse struct {
	DoctorID uuid.UUID `json:"doctorId"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
