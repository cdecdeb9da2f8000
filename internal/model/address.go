package model

import "time"

type Address struct {
	ID         string    `json:"id"`
	CityID     string    `json:"city_id"`
	Number     string    `json:"number"`
	StreetName string    `json:"street_name"`
	Status     string    `json:"status"`
	Note       string    `json:"note"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// AddressSort names the orderings the address list supports.
type AddressSort string

const (
	SortByNumber  AddressSort = "number"
	SortByStreet  AddressSort = "street"
	SortByStatus  AddressSort = "status"
	SortByCreated AddressSort = "created"
)

// AddressFilter narrows an address listing. Zero values match everything.
type AddressFilter struct {
	Street string
	Status string
	Search string
	Sort   AddressSort
}

type StatusCount struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}
