// Package dto defines data transfer objects for the Polygon.io API responses.
package dto

import "encoding/json"

// AggregatesResponse represents the JSON response of /v2/aggs/ticker/{ticker}/range/...
type AggregatesResponse struct {
	Ticker       string `json:"ticker"`
	Status       string `json:"status"`
	ResultsCount int    `json:"resultsCount"`
	Error        string `json:"error,omitempty"`
	Message      string `json:"message,omitempty"`
	NextURL      string `json:"next_url,omitempty"`
	Results      []Bar  `json:"results"`
}

// Bar is one aggregate. T is the window start in unix milliseconds.
type Bar struct {
	T json.Number `json:"t"`
	O json.Number `json:"o"`
	H json.Number `json:"h"`
	L json.Number `json:"l"`
	C json.Number `json:"c"`
	V json.Number `json:"v"`
}
