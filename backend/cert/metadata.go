package cert

import "time"

type Status string

const (
	// StatusRequested marks a name reserved while issuance is in flight.
	StatusRequested Status = "requested"
	StatusActive    Status = "active"
	StatusRevoked   Status = "revoked"
)

// Metadata is the registry row for one client certificate, keyed by Name.
type Metadata struct {
	Name         string     `json:"name"`
	Status       Status     `json:"status"`
	SerialNumber string     `json:"serialNumber"`
	CreatedAt    time.Time  `json:"createdAt"`
	CreatedBy    string     `json:"createdBy"`
	ExpiresAt    time.Time  `json:"expiresAt"`
	RevokedAt    *time.Time `json:"revokedAt,omitempty"`
	RevokedBy    string     `json:"revokedBy,omitempty"`
}

func (m *Metadata) clone() *Metadata {
	c := *m
	if m.RevokedAt != nil {
		t := *m.RevokedAt
		c.RevokedAt = &t
	}
	return &c
}
