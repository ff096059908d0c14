package api

import (
	"net/http"

	"github.com/flagsink/flagsink/internal/model"
	"github.com/flagsink/flagsink/internal/roster"
)

type rosterResponse struct {
	Teams    []model.Team    `json:"teams"`
	Services []model.Service `json:"services"`
}

// HandleRoster returns the loaded teams and services.
func HandleRoster(ros *roster.Roster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, rosterResponse{
			Teams:    ros.Teams(),
			Services: ros.Services(),
		})
	}
}
