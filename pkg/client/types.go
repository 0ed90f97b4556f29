package client

// ErrorResponse is the error body returned by the dashboard API.
type ErrorResponse struct {
	Error string `json:"error"`
}

// OKResponse is the acknowledgement body for command endpoints.
type OKResponse struct {
	OK bool `json:"ok"`
}
