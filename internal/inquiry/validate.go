package inquiry

import (
	"errors"
	"fmt"
	"net/mail"
	"slices"
	"strings"
	"time"

	"github.com/MrWong99/concierge/pkg/types"
)

// ErrInvalid wraps every validation failure returned by [Validate].
var ErrInvalid = errors.New("inquiry: invalid")

// MaxFieldLength caps free-text fields.
const MaxFieldLength = 4000

// Normalize trims whitespace, defaults the event type to
// [types.EventWedding] and removes duplicate services, preserving order.
func Normalize(inq types.Inquiry) types.Inquiry {
	inq.Name = strings.TrimSpace(inq.Name)
	inq.Email = strings.TrimSpace(inq.Email)
	inq.Phone = strings.TrimSpace(inq.Phone)
	inq.Date = strings.TrimSpace(inq.Date)
	inq.Location = strings.TrimSpace(inq.Location)
	inq.Budget = strings.TrimSpace(inq.Budget)
	inq.StylePreferences = strings.TrimSpace(inq.StylePreferences)
	inq.Details = strings.TrimSpace(inq.Details)
	if inq.EventType == "" {
		inq.EventType = types.EventWedding
	}

	var services []string
	for _, s := range inq.ServicesNeeded {
		s = strings.TrimSpace(s)
		if s != "" && !slices.Contains(services, s) {
			services = append(services, s)
		}
	}
	inq.ServicesNeeded = services
	return inq
}

// Validate checks a normalized inquiry. All problems are reported together;
// the returned error matches [ErrInvalid].
func Validate(inq types.Inquiry) error {
	var errs []error
	required := func(field, value string) {
		if value == "" {
			errs = append(errs, fmt.Errorf("%s is required", field))
		}
	}
	required("name", inq.Name)
	required("email", inq.Email)
	required("phone", inq.Phone)
	required("details", inq.Details)

	if inq.Email != "" {
		if _, err := mail.ParseAddress(inq.Email); err != nil {
			errs = append(errs, fmt.Errorf("email %q is not a valid address", inq.Email))
		}
	}
	if !inq.EventType.IsValid() {
		errs = append(errs, fmt.Errorf("unknown event type %q", inq.EventType))
	}
	if inq.Date != "" {
		if _, err := time.Parse(time.DateOnly, inq.Date); err != nil {
			errs = append(errs, fmt.Errorf("date %q must be YYYY-MM-DD", inq.Date))
		}
	}
	if inq.GuestCount < 0 {
		errs = append(errs, fmt.Errorf("guest count must not be negative, got %d", inq.GuestCount))
	}
	for _, s := range inq.ServicesNeeded {
		if !types.IsServiceOption(s) {
			errs = append(errs, fmt.Errorf("unknown service %q", s))
		}
	}
	for _, f := range []struct{ name, value string }{
		{"name", inq.Name},
		{"location", inq.Location},
		{"budget", inq.Budget},
		{"stylePreferences", inq.StylePreferences},
		{"details", inq.Details},
	} {
		if len(f.value) > MaxFieldLength {
			errs = append(errs, fmt.Errorf("%s exceeds %d bytes", f.name, MaxFieldLength))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}
