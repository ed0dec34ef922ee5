package booking

import "time"

type User struct {
	ID      int    `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name,omitempty"`
	Address string `json:"address,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Token   string `json:"token,omitempty"` // bearer token for authenticated calls
}

type Appointment struct {
	ID            int       `json:"id"`
	DateTime      time.Time `json:"dateTime"`
	TreatmentName string    `json:"treatmentName"`
	UserID        int       `json:"userId,omitempty"` // 0 => available
}

// AppointmentDateMap indexes one month's appointments by day of month.
type AppointmentDateMap map[int][]Appointment

// Clone copies the map and its slices so optimistic edits never alias the
// cached value.
func (m AppointmentDateMap) Clone() AppointmentDateMap {
	out := make(AppointmentDateMap, len(m))
	for day, appts := range m {
		out[day] = append([]Appointment(nil), appts...)
	}
	return out
}

type Staff struct {
	ID             int      `json:"id"`
	Name           string   `json:"name"`
	TreatmentNames []string `json:"treatmentNames"`
}

type Treatment struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	DurationMin int    `json:"durationInMinutes"`
	Description string `json:"description,omitempty"`
}
