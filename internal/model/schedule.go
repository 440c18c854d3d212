package model

import "time"

// Schedule statuses.  A schedule only accepts bookings while it is
// SCHEDULED; the other states are terminal for the booking flow.
const (
    ScheduleStatusScheduled = "SCHEDULED"
    ScheduleStatusDeparted  = "DEPARTED"
    ScheduleStatusCancelled = "CANCELLED"
    ScheduleStatusCompleted = "COMPLETED"
)

// Schedule represents a single sailing of a ship on a route.  The
// AvailableSeats column is the seat ledger for the sailing: it is
// decremented when a booking reserves seats and incremented when a
// booking expires or fails.  Every mutation of AvailableSeats happens
// under the schedule-scoped lock, so the invariant
// 0 <= AvailableSeats <= Capacity holds at all times.
//
// Fields:
//  ID             – primary key identifier.
//  RouteID        – route being sailed.
//  ShipID         – ship assigned to the sailing.
//  DepartureAt    – scheduled departure time (UTC).
//  AvailableSeats – seats still open for sale.
//  Capacity       – total seats of the assigned ship (joined from ships).
//  Status         – current state of the sailing.
//  CreatedAt      – creation timestamp.
//  UpdatedAt      – last update timestamp.
type Schedule struct {
    ID             uint64    // schedules.id
    RouteID        uint64    // schedules.route_id
    ShipID         uint64    // schedules.ship_id
    DepartureAt    time.Time // schedules.departure_at
    AvailableSeats int       // schedules.available_seats
    Capacity       int       // ships.capacity (joined)
    Status         string    // schedules.status
    CreatedAt      time.Time // schedules.created_at
    UpdatedAt      time.Time // schedules.updated_at
}

// Bookable reports whether the schedule can still accept new bookings.
// It does not look at the seat ledger; availability is checked under
// the schedule lock by the repository.
func (s *Schedule) Bookable(now time.Time) bool {
    return s.Status == ScheduleStatusScheduled && s.DepartureAt.After(now)
}

// Ship describes a vessel and its seat capacity.  Capacity is the
// upper bound for the seat ledger of every schedule using this ship.
type Ship struct {
    ID       uint64 // ships.id
    Name     string // ships.name
    Capacity int    // ships.capacity
}

// Route is an origin/destination pair served by the operator.
type Route struct {
    ID          uint64 // routes.id
    Origin      string // routes.origin
    Destination string // routes.destination
}
