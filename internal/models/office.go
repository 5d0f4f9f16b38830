package models

type Office struct {
	OfficeID    string `json:"office_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}
