package models

import "strings"

// Profile is a user of the helpdesk: customer, staff or admin.
type Profile struct {
	UserID     string  `json:"user_id" yaml:"user_id"`
	FirstName  string  `json:"first_name" yaml:"first_name"`
	LastName   string  `json:"last_name" yaml:"last_name"`
	Email      string  `json:"email" yaml:"email"`
	JobTitle   *string `json:"job_title,omitempty" yaml:"job_title"`
	IsActive   bool    `json:"is_active" yaml:"is_active"`
	IsCustomer bool    `json:"is_customer" yaml:"is_customer"`
	IsAdmin    bool    `json:"is_admin" yaml:"is_admin"`
}

// IsStaff reports whether the profile can be assigned tickets.
func (p Profile) IsStaff() bool {
	return p.IsActive && !p.IsCustomer && !p.IsAdmin
}

func (p Profile) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// Employee is the subset of a profile exposed to the model.
type Employee struct {
	UserID    string `json:"user_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email,omitempty"`
}

func EmployeeFromProfile(p Profile) Employee {
	return Employee{
		UserID:    p.UserID,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Email:     p.Email,
	}
}
