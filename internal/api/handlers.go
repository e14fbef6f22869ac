package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-booking/internal/auth"
	"github.com/hackgods/clinic-booking/internal/clinic"
)

// Handler exposes clinic.Service over HTTP.
type Handler struct {
	svc      *clinic.Service
	log      *zap.Logger
	validate *validator.Validate
}

func NewHandler(svc *clinic.Service, log *zap.Logger) *Handler {
	return &Handler{
		svc:      svc,
		log:      log,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", validationDetails(err))
		return false
	}
	return true
}

func validationDetails(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	if fe.Param() != "" {
		return fmt.Sprintf("%s failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag())
}

// SubmitAvailability handles POST /api/doctor/availability.
func (h *Handler) SubmitAvailability(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	var req SubmitAvailabilityRequest
	if !h.decode(w, r, &req) {
		return
	}

	windows := make([]clinic.Window, len(req.Slots))
	for i, s := range req.Slots {
		start, err := clinic.ParseTimeOfDay(s.Start)
		if err != nil {
			h.handleError(w, r, err)
			return
		}
		end, err := clinic.ParseTimeOfDay(s.End)
		if err != nil {
			h.handleError(w, r, err)
			return
		}
		windows[i] = clinic.Window{Start: start, End: end}
	}

	doctorID, err := h.svc.DoctorIDForUser(r.Context(), id.UserID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	slots, err := h.svc.SubmitAvailability(r.Context(), doctorID, req.Date, windows)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, SubmitAvailabilityResponse{
		DoctorID: doctorID,
		Date:     req.Date,
		Slots:    clinic.OpenSlotsOf(slots),
	})
}

// DoctorProfile handles GET /api/doctor/me.
func (h *Handler) DoctorProfile(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	doctorID, err := h.svc.DoctorIDForUser(r.Context(), id.UserID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DoctorProfileResponse{DoctorID: doctorID})
}

// AvailableDoctors handles GET /api/appointments/doctors/available?date=.
func (h *Handler) AvailableDoctors(w http.ResponseWriter, r *http.Request) {
	doctors, err := h.svc.AvailableDoctors(r.Context(), r.URL.Query().Get("date"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doctors)
}

// AvailableSlots handles GET /api/appointments/slots/available?doctorId=&date=.
func (h *Handler) AvailableSlots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	doctorID, err := uuid.Parse(q.Get("doctorId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctorId must be a valid UUID")
		return
	}

	slots, err := h.svc.AvailableSlots(r.Context(), doctorID, q.Get("date"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, slots)
}

// BookSlot handles POST /api/appointments/book.
func (h *Handler) BookSlot(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	var req BookSlotRequest
	if !h.decode(w, r, &req) {
		return
	}
	slotID, err := uuid.Parse(req.SlotID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_slot_id", "slotId must be a valid UUID")
		return
	}

	patientID, err := h.svc.PatientIDForUser(r.Context(), id.UserID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	slot, err := h.svc.BookSlot(r.Context(), patientID, slotID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	resp := BookSlotResponse{
		SlotID:    slot.ID,
		PatientID: patientID,
		Message:   "Booked successfully.",
	}
	if slot.DoctorID != uuid.Nil {
		resp.DoctorID = &slot.DoctorID
		resp.Date = clinic.FormatDate(slot.Date)
		resp.Start = slot.Start.String()
		resp.End = slot.End.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

// errorCodes maps specific errors to reason codes, most specific first.
var errorCodes = []struct {
	err  error
	code string
}{
	{clinic.ErrInvalidDate, "invalid_date"},
	{clinic.ErrInvalidTime, "invalid_time"},
	{clinic.ErrInvalidRange, "invalid_range"},
	{clinic.ErrNoWindows, "no_windows"},
	{clinic.ErrInvalidSlotLength, "invalid_slot_length"},
	{clinic.ErrOverlappingWindow, "overlapping_window"},
	{clinic.ErrAlreadyBooked, "already_booked"},
	{clinic.ErrSlotNotFound, "slot_not_found"},
	{clinic.ErrDoctorNotFound, "doctor_not_found"},
	{clinic.ErrPatientNotFound, "patient_not_found"},
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, clinic.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, clinic.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, clinic.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, clinic.ErrUnauthorized):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, status, "internal_error", "internal server error")
		return
	}

	code := "invalid_input"
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			code = c.code
			break
		}
	}
	writeError(w, status, code, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
