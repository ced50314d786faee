// Package types defines the inquiry data shared by the capture service, lead
// storage, notification and consultation packages.
//
// The JSON field names match the website's inquiry form so that request
// bodies decode directly into [Inquiry].
package types

import (
	"slices"
	"time"
)

// EventType is the kind of celebration a client is planning.
type EventType string

const (
	EventWedding      EventType = "Casamento"
	EventBaptism      EventType = "Batizado"
	EventBabyShower   EventType = "Chá de Bebé"
	EventGenderReveal EventType = "Chá Revelação"
	EventBirthday     EventType = "Aniversário"
	EventOther        EventType = "Outro"
)

// EventTypes lists every event type in the order the form presents them.
var EventTypes = []EventType{
	EventWedding,
	EventBaptism,
	EventBabyShower,
	EventGenderReveal,
	EventBirthday,
	EventOther,
}

// IsValid reports whether e is one of [EventTypes].
func (e EventType) IsValid() bool {
	return slices.Contains(EventTypes, e)
}

// ServiceOptions are the services a client can request.
var ServiceOptions = []string{
	"Planeamento Completo",
	"Decoração & Design",
	"Coordenação do Dia",
	"Design Floral",
	"Consultoria de Imagem",
	"Gestão de Fornecedores",
}

// IsServiceOption reports whether s is one of [ServiceOptions].
func IsServiceOption(s string) bool {
	return slices.Contains(ServiceOptions, s)
}

// Inquiry is a prospective client's request for an event quote.
type Inquiry struct {
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	EventType EventType `json:"eventType"`

	// Date is the desired event date as entered by the client (YYYY-MM-DD
	// from the form, but free text is tolerated).
	Date       string `json:"date"`
	Location   string `json:"location"`
	GuestCount int    `json:"guestCount"`

	// Budget is optional. Empty means "not specified".
	Budget           string   `json:"budget,omitempty"`
	StylePreferences string   `json:"stylePreferences"`
	ServicesNeeded   []string `json:"servicesNeeded"`
	Details          string   `json:"details"`
}

// Lead is an accepted [Inquiry] together with its storage identity.
type Lead struct {
	ID         string    `json:"id"`
	ReceivedAt time.Time `json:"receivedAt"`
	Inquiry
}
