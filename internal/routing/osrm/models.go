package osrm

// routeResponse is the OSRM route service response.
type routeResponse struct {
	Code    string  `json:"code"`
	Message string  `json:"message,omitempty"`
	Routes  []route `json:"routes"`
}

// route is one route in the response. Geometry is an encoded polyline
// with precision 5.
type route struct {
	Geometry   string  `json:"geometry"`
	Distance   float64 `json:"distance"` // meters
	Duration   float64 `json:"duration"` // seconds
	Weight     float64 `json:"weight"`
	WeightName string  `json:"weight_name,omitempty"`
}
