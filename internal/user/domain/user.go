package domain

import (
	"strings"
	"time"
)

type Role string

const RoleCustomer Role = "CUSTOMER"

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	Phone        *string   `json:"phone,omitempty"` // Pointer agar bisa null
	Address      *string   `json:"address,omitempty"`
	City         *string   `json:"city,omitempty"`
	PostalCode   *string   `json:"postal_code,omitempty"`
	Country      *string   `json:"country,omitempty"`
	Role         Role      `json:"role"`
	IsGuest      bool      `json:"is_guest"`
	PasswordHash string    `json:"-"` // Jangan kirim password hash ke client
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ShippingInfo is the contact block of a checkout request.
type ShippingInfo struct {
	Email      string `json:"email" binding:"required,email"`
	FirstName  string `json:"firstName" binding:"required"`
	LastName   string `json:"lastName"`
	Phone      string `json:"phone"`
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ApplyContact copies only the non-empty fields of info, so an existing value is never blanked.
func (u *User) ApplyContact(info ShippingInfo) bool {
	changed := false
	setString := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" && v != *dst {
			*dst = v
			changed = true
		}
	}
	setOptional := func(dst **string, v string) {
		v = strings.TrimSpace(v)
		if v == "" {
			return
		}
		if *dst == nil || **dst != v {
			*dst = &v
			changed = true
		}
	}

	setString(&u.FirstName, info.FirstName)
	setString(&u.LastName, info.LastName)
	setOptional(&u.Phone, info.Phone)
	setOptional(&u.Address, info.Address)
	setOptional(&u.City, info.City)
	setOptional(&u.PostalCode, info.PostalCode)
	setOptional(&u.Country, info.Country)
	return changed
}
