package models

import (
	"time"
)

// IncidentStatus is the lifecycle state of an incident.
type IncidentStatus string

const (
	IncidentPending           IncidentStatus = "Pending"
	IncidentPendingAssignment IncidentStatus = "Pending-Assignment"
	IncidentInProgress        IncidentStatus = "In-Progress"
	IncidentDone              IncidentStatus = "Done"
	IncidentCancelled         IncidentStatus = "Cancelled"
)

// Active reports whether the incident currently holds fleet capacity.
func (s IncidentStatus) Active() bool {
	return s == IncidentPendingAssignment || s == IncidentInProgress
}

// OrgType classifies the kind of responding organisation.
type OrgType string

const (
	OrgGovernment     OrgType = "Government"
	OrgNGO            OrgType = "NGO"
	OrgVolunteerGroup OrgType = "Volunteer Group"
	OrgPrivate        OrgType = "Private"
)

// OrgCategory is the operational category of an organisation.
type OrgCategory string

const (
	OrgCatEmergencyResponse OrgCategory = "Emergency Response"
	OrgCatMedical           OrgCategory = "Medical"
	OrgCatRelief            OrgCategory = "Relief"
	OrgCatLogistics         OrgCategory = "Logistics"
	OrgCatRescue            OrgCategory = "Rescue"
)

// EntityStatus is the availability state of an organisation or division.
type EntityStatus string

const (
	StatusActive     EntityStatus = "Active"
	StatusAvailable  EntityStatus = "Available"
	StatusOverloaded EntityStatus = "Overloaded"
	StatusInactive   EntityStatus = "Inactive"
)

// DivisionType names a division's operational specialty.
type DivisionType string

const (
	DivMedical           DivisionType = "Medical"
	DivRescue            DivisionType = "Rescue"
	DivLogistics         DivisionType = "Logistics"
	DivCommunication     DivisionType = "Communication"
	DivEmergencyResponse DivisionType = "Emergency Response"
)

// StaffRole is the job role of a staff member.
type StaffRole string

const (
	RoleManager    StaffRole = "Manager"
	RoleSpecialist StaffRole = "Specialist"
	RoleWorker     StaffRole = "Worker"
	RoleVolunteer  StaffRole = "Volunteer"
)

// StaffAvailability tracks whether a staff member can take new work.
type StaffAvailability string

const (
	StaffAvailable StaffAvailability = "Available"
	StaffBusy      StaffAvailability = "Busy"
	StaffOffDuty   StaffAvailability = "Off-duty"
)

// Incident is a single emergency report tracked through its lifecycle.
type Incident struct {
	ID              string         `json:"id"`
	ExternalID      string         `json:"externalId,omitempty"`
	Source          string         `json:"source"`
	Text            string         `json:"text"`
	VoiceTranscript string         `json:"voiceTranscript,omitempty"`
	Category        string         `json:"category,omitempty"`
	Priority        int            `json:"priority"`
	Place           string         `json:"place,omitempty"`
	Latitude        float64        `json:"latitude"`
	Longitude       float64        `json:"longitude"`
	Headcount       int            `json:"headcount"`
	Status          IncidentStatus `json:"status"`

	AssignedOrgID      string `json:"assignedOrgId,omitempty"`
	AssignedDivisionID string `json:"assignedDivisionId,omitempty"`
	AssignedStaffID    string `json:"assignedStaffId,omitempty"`

	AssignmentDeadline  *time.Time `json:"assignmentDeadline,omitempty"`
	EstimatedCompletion *time.Time `json:"estimatedCompletion,omitempty"`
	ActualCompletion    *time.Time `json:"actualCompletion,omitempty"`

	Triage    *TriageResult `json:"triage,omitempty"`
	CreatedBy string        `json:"createdBy,omitempty"`
	Notes     string        `json:"notes,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// Assignment is the (org, division, staff) triplet selected for an incident.
// Division and staff may be empty.
type Assignment struct {
	OrgID      string `json:"orgId"`
	DivisionID string `json:"divisionId,omitempty"`
	StaffID    string `json:"staffId,omitempty"`
}

// Organization is a responding organisation with bounded capacity.
type Organization struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Type        OrgType      `json:"type"`
	Category    OrgCategory  `json:"category"`
	Region      string       `json:"region,omitempty"`
	Latitude    float64      `json:"latitude"`
	Longitude   float64      `json:"longitude"`
	Capacity    int          `json:"capacity"`
	CurrentLoad int          `json:"currentLoad"`
	Status      EntityStatus `json:"status"`
}

// Division is a specialised unit inside an organisation.
type Division struct {
	ID          string       `json:"id"`
	OrgID       string       `json:"orgId"`
	Type        DivisionType `json:"type"`
	Description string       `json:"description,omitempty"`
	Skills      []string     `json:"skills,omitempty"`
	Capacity    int          `json:"capacity"`
	CurrentLoad int          `json:"currentLoad"`
	Status      EntityStatus `json:"status"`
}

// Staff is an individual responder.
type Staff struct {
	ID           string            `json:"id"`
	OrgID        string            `json:"orgId"`
	DivisionID   string            `json:"divisionId,omitempty"`
	Name         string            `json:"name"`
	Role         StaffRole         `json:"role"`
	Skills       []string          `json:"skills,omitempty"`
	Phone        string            `json:"phone,omitempty"`
	Email        string            `json:"email,omitempty"`
	Availability StaffAvailability `json:"availability"`
	Latitude     *float64          `json:"latitude,omitempty"`
	Longitude    *float64          `json:"longitude,omitempty"`
	Status       EntityStatus      `json:"status"`
}

// FacilityType distinguishes shelters from hospitals.
type FacilityType string

const (
	FacilityShelter  FacilityType = "Shelter"
	FacilityHospital FacilityType = "Hospital"
)

// Facility is a shelter or hospital, read-only from the core's perspective.
type Facility struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Type          FacilityType `json:"type"`
	Latitude      float64      `json:"latitude"`
	Longitude     float64      `json:"longitude"`
	Capacity      int          `json:"capacity"`
	Occupancy     int          `json:"occupancy"`
	BedsAvailable int          `json:"bedsAvailable"`
	ICUBeds       int          `json:"icuBeds,omitempty"`
}

// TriageResult is the classification produced for an incident.
type TriageResult struct {
	Category             string       `json:"category"`
	Priority             int          `json:"priority"`
	RequiredDivisionType DivisionType `json:"requiredDivisionType"`
	RequiredSkills       []string     `json:"requiredSkills"`
	Source               string       `json:"source"`
	Confidence           float64      `json:"confidence"`
}

// Triage sources.
const (
	TriageSourceLLM   = "llm"
	TriageSourceRules = "rules"
)

// DispatchState is the delivery state of a queued dispatch job.
type DispatchState string

const (
	DispatchQueued         DispatchState = "Queued"
	DispatchInFlight       DispatchState = "InFlight"
	DispatchDelivered      DispatchState = "Delivered"
	DispatchFailedTerminal DispatchState = "Failed-Terminal"
)

// DispatchJob is an outbound ticket-creation job on the durable queue.
type DispatchJob struct {
	ID             string        `json:"id"`
	ClientTicketID string        `json:"clientTicketId"`
	IdempotencyKey string        `json:"idempotencyKey"`
	Lane           string        `json:"lane"`
	Payload        []byte        `json:"payload"`
	Attempts       int           `json:"attempts"`
	NextAttemptAt  time.Time     `json:"nextAttemptAt"`
	State          DispatchState `json:"state"`
	LastError      string        `json:"lastError,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// AuditEvent is one append-only record of a lifecycle mutation.
type AuditEvent struct {
	ID         string    `json:"id"`
	IncidentID string    `json:"incidentId"`
	Principal  string    `json:"principal"`
	Kind       string    `json:"kind"`
	Before     string    `json:"before,omitempty"`
	After      string    `json:"after,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	OrgID      string    `json:"orgId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Audit event kinds.
const (
	AuditCreate      = "create"
	AuditStartWindow = "start_window"
	AuditAccept      = "accept"
	AuditReject      = "reject"
	AuditComplete    = "complete"
	AuditCancel      = "cancel"
	AuditUpdate      = "update"
	AuditDelete      = "delete"
	AuditReconcile   = "reconcile"
)
