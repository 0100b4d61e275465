package models

import (
	apperrors "unocoin-client/internal/errors"
)

// Address is a postal address with dirty tracking. Once the owning profile
// has been submitted for verification the address is locked read-only.
type Address struct {
	street   string
	city     string
	state    string // region name, e.g. Karnataka
	zipcode  string
	country  string
	dirty    bool
	readOnly bool
}

// NewAddress creates a clean, writable address.
func NewAddress(street, city, state, zipcode, country string) *Address {
	return &Address{
		street:  street,
		city:    city,
		state:   state,
		zipcode: zipcode,
		country: country,
	}
}

func (a *Address) Street() string  { return a.street }
func (a *Address) City() string    { return a.city }
func (a *Address) State() string   { return a.state }
func (a *Address) Zipcode() string { return a.zipcode }
func (a *Address) Country() string { return a.country }

// Dirty reports whether any field changed since the last save.
func (a *Address) Dirty() bool { return a.dirty }

// ReadOnly reports whether setters are blocked.
func (a *Address) ReadOnly() bool { return a.readOnly }

// Complete is true when street, city, state and zipcode are all present.
// Country is implied by the exchange and not required.
func (a *Address) Complete() bool {
	return a.street != "" && a.city != "" && a.state != "" && a.zipcode != ""
}

func (a *Address) SetStreet(v string) error  { return a.set(&a.street, v) }
func (a *Address) SetCity(v string) error    { return a.set(&a.city, v) }
func (a *Address) SetState(v string) error   { return a.set(&a.state, v) }
func (a *Address) SetZipcode(v string) error { return a.set(&a.zipcode, v) }
func (a *Address) SetCountry(v string) error { return a.set(&a.country, v) }

func (a *Address) set(field *string, v string) error {
	if a.readOnly {
		return apperrors.ErrReadOnly
	}
	if *field != v {
		*field = v
		a.dirty = true
	}
	return nil
}

// DidSave clears the dirty flag after the server accepted the address.
func (a *Address) DidSave() {
	a.dirty = false
}

// Lock makes the address read-only.
func (a *Address) Lock() {
	a.readOnly = true
}
