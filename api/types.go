package api

import (
	"todo-api/domain"
	"todo-api/notify"
	"todo-api/view"
)

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

type tasksResponse struct {
	Tasks  []domain.Task `json:"tasks"`
	Counts view.Counts   `json:"counts"`
	View   view.Snapshot `json:"view"`
}

type taskResponse struct {
	Task domain.Task `json:"task"`
}

type toggleRequest struct {
	IsComplete *bool `json:"is_complete"`
}

type updateRequest struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Category   string `json:"category"`
	Priority   string `json:"priority"`
	IsComplete bool   `json:"is_complete"`
}

type editResponse struct {
	Editing string      `json:"editing"`
	Draft   *view.Draft `json:"draft,omitempty"`
}

type menuResponse struct {
	Menu string `json:"menu,omitempty"`
	Open bool   `json:"open"`
}

type noticesResponse struct {
	Notices []notify.Toast `json:"notices"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
