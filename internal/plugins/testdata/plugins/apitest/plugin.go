package main

import (
	"encoding/json"
	"fleet"
	"net/http"
)

func Init(s fleet.Surface) error {
	s.HandleFunc("GET /api/test", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"message": "API Plugin is working!"})
	})
	s.Logger().Info("API Plugin has been loaded")
	return nil
}
