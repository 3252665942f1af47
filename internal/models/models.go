package models

import "time"

// Coord is a WGS84 point. JSON uses lat/lon to match the driver feed.
type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether the coordinate is inside the WGS84 range.
func (c Coord) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

type SlotStatus string

const (
	SlotAvailable SlotStatus = "available"
	SlotBusy      SlotStatus = "busy"
	SlotOff       SlotStatus = "off"
)

func (s SlotStatus) Valid() bool {
	switch s {
	case SlotAvailable, SlotBusy, SlotOff:
		return true
	}
	return false
}

type SlotKind string

const (
	SlotRegular SlotKind = "regular"
	SlotExtra   SlotKind = "extra"
)

// TimeRange is a local wall-clock range in "HH:MM" form.
type TimeRange struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// AvailabilitySlot is one UTC interval of a driver's agenda.
type AvailabilitySlot struct {
	Start           time.Time   `json:"start_date"`
	End             time.Time   `json:"end_date"`
	Status          SlotStatus  `json:"status"`
	TimeSlots       []TimeRange `json:"time_slots,omitempty"`
	Kind            SlotKind    `json:"kind,omitempty"`
	ExtraScheduleID string      `json:"extra_schedule_id,omitempty"`
}

type DriverAgenda struct {
	DriverID  string             `json:"driver_id"`
	Slots     []AvailabilitySlot `json:"availability"`
	Version   int64              `json:"version"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

type ReservationStatus string

const (
	ReservationPending    ReservationStatus = "pending"
	ReservationConfirmed  ReservationStatus = "confirmed"
	ReservationInProgress ReservationStatus = "in_progress"
	ReservationCompleted  ReservationStatus = "completed"
	ReservationCancelled  ReservationStatus = "cancelled"
	ReservationRejected   ReservationStatus = "rejected"
	ReservationNoShow     ReservationStatus = "no_show"
)

// Blocking reports whether a reservation in this status still occupies
// its driver and vehicle.
func (s ReservationStatus) Blocking() bool {
	return s != ReservationCancelled && s != ReservationRejected
}

type Reservation struct {
	ID              string            `json:"id"`
	Code            string            `json:"code,omitempty"`
	DriverID        string            `json:"driver_id"`
	VehicleID       string            `json:"vehicle_id"`
	PickupAt        time.Time         `json:"pickup_time"`
	DropoffEstimate time.Time         `json:"dropoff_time_estimate"`
	Status          ReservationStatus `json:"status"`
}

type ExtraScheduleStatus string

const (
	ExtraActive    ExtraScheduleStatus = "active"
	ExtraCancelled ExtraScheduleStatus = "cancelled"
)

// ExtraScheduleSlot is the audit record of an admin-created slot.
type ExtraScheduleSlot struct {
	ID                 string              `json:"id"`
	DriverID           string              `json:"driver_id"`
	VehicleID          string              `json:"vehicle_id,omitempty"`
	ClientID           string              `json:"client_id,omitempty"`
	BookingID          string              `json:"booking_id,omitempty"`
	RequestedBy        string              `json:"requested_by"`
	Date               string              `json:"date"`
	StartTime          string              `json:"start_time"`
	EndTime            string              `json:"end_time"`
	Start              time.Time           `json:"start_datetime"`
	End                time.Time           `json:"end_datetime"`
	Timezone           string              `json:"timezone"`
	Reason             string              `json:"reason"`
	Notes              string              `json:"notes,omitempty"`
	PickupLocation     string              `json:"pickup_location,omitempty"`
	DropoffLocation    string              `json:"dropoff_location,omitempty"`
	Status             ExtraScheduleStatus `json:"status"`
	CreatedAt          time.Time           `json:"created_at"`
	CancelledAt        *time.Time          `json:"cancelled_at,omitempty"`
	CancelledBy        string              `json:"cancelled_by,omitempty"`
	CancellationReason string              `json:"cancellation_reason,omitempty"`
}

// DurationMinutes is the length of the extra slot.
func (e ExtraScheduleSlot) DurationMinutes() int {
	return int(e.End.Sub(e.Start) / time.Minute)
}

// Pricing is opaque to the engine; it is copied through to results.
type Pricing map[string]any

type ZoneVehicle struct {
	VehicleID string `json:"vehicle_id"`
	DriverID  string `json:"driver_id"`
}

type FixedZone struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Center   Coord         `json:"center"`
	RadiusKm float64       `json:"radius_km"`
	Status   string        `json:"status"`
	Vehicles []ZoneVehicle `json:"vehicles"`
	Pricing  Pricing       `json:"pricing,omitempty"`
}

const ZoneActive = "active"

type RouteType string

const (
	RouteFixedZone RouteType = "fixed_zone"
	RouteFlexible  RouteType = "flexible_route"
)

type Vehicle struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	LicensePlate string    `json:"license_plate,omitempty"`
	Location     Coord     `json:"location"`
	RadiusKm     float64   `json:"radius_km"`
	DriverIDs    []string  `json:"associated_driver_ids"`
	Pricing      Pricing   `json:"pricing,omitempty"`
	Available    bool      `json:"available"`
	RouteType    RouteType `json:"route_type"`
}

// VehiclePosition is a location update for a flexible-route vehicle,
// carried on the positions topic.
type VehiclePosition struct {
	VehicleID string    `json:"vehicle_id"`
	Loc       Coord     `json:"loc"`
	Updated   time.Time `json:"updated"`
}

// AvailabilityRequest carries the pickup as a local wall-clock time; its
// location is ignored and replaced by the zone resolved from Address.
type AvailabilityRequest struct {
	Address         string    `json:"address"`
	Coordinates     *Coord    `json:"coordinates,omitempty"`
	PickupLocal     time.Time `json:"-"`
	DurationMinutes int       `json:"estimated_duration"`
}

type UnavailableReason string

const (
	ReasonConflict            UnavailableReason = "conflict"
	ReasonOutsideWorkingHours UnavailableReason = "outside_working_hours"
)

// TimeWindow is one available window of a driver's local day.
type TimeWindow struct {
	StartTime        string    `json:"start_time"`
	EndTime          string    `json:"end_time"`
	StartTimeDisplay string    `json:"start_time_display,omitempty"`
	EndTimeDisplay   string    `json:"end_time_display,omitempty"`
	Start            time.Time `json:"-"`
}

type AvailableVehicle struct {
	VehicleID        string    `json:"vehicle_id"`
	DriverID         string    `json:"driver_id"`
	AvailabilityType RouteType `json:"availability_type"`
	ZoneID           string    `json:"zone_id,omitempty"`
	ZoneName         string    `json:"zone_name,omitempty"`
	DistanceKm       float64   `json:"distance_km,omitempty"`
	Pricing          Pricing   `json:"pricing,omitempty"`
	DurationMinutes  int       `json:"available_duration"`
	EstimatedEnd     string    `json:"estimated_end_time"`
}

type AlternativeVehicle struct {
	AvailableVehicle
	Reason        UnavailableReason `json:"unavailable_reason"`
	ConflictWith  string            `json:"conflict_with,omitempty"`
	DailySlots    []TimeWindow      `json:"alternative_time_slots,omitempty"`
	NextAvailable *time.Time        `json:"next_available_time,omitempty"`
	NextDay       bool              `json:"next_day"`
}

type AvailabilityResult struct {
	Address            string               `json:"address"`
	Coordinates        Coord                `json:"coordinates"`
	Timezone           string               `json:"timezone"`
	PickupLocal        string               `json:"pickup_date"`
	PickupUTC          time.Time            `json:"pickup_utc"`
	DurationMinutes    int                  `json:"estimated_duration"`
	TotalFound         int                  `json:"total_vehicles_found"`
	FixedZoneCount     int                  `json:"fixed_zone_count"`
	FlexibleRouteCount int                  `json:"flexible_route_count"`
	Available          []AvailableVehicle   `json:"available_vehicles"`
	Alternatives       []AlternativeVehicle `json:"vehicles_with_alternative_schedules,omitempty"`
	AlternativeCount   int                  `json:"alternative_vehicles_count,omitempty"`
}
